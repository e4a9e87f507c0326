package repository

import (
	"context"

	"github.com/fastygo/journal/domain"
)

// JournalRepository persists the append-only journal table.
// Implementations use the transaction carried on ctx when present.
type JournalRepository interface {
	// Latest returns the entry with the highest version or domain.ErrJournalNotFound.
	Latest(ctx context.Context, ref domain.Ref) (*domain.Entry, error)
	// List returns all entries ascending by version.
	List(ctx context.Context, ref domain.Ref) ([]domain.Entry, error)
	Get(ctx context.Context, ref domain.Ref, version int) (*domain.Entry, error)
	// Insert stores entry under a savepoint. A (kind, id, version) collision
	// rolls back to the savepoint and returns domain.ErrVersionConflict.
	Insert(ctx context.Context, entry *domain.Entry) error
	// UpdateInitial replaces the data and details of version 1 in place.
	UpdateInitial(ctx context.Context, entry *domain.Entry) error
	DeleteAll(ctx context.Context, ref domain.Ref) (int64, error)
	// RewriteAuthor moves authorship of every entry from one actor to another.
	RewriteAuthor(ctx context.Context, from, to int64) (int64, error)
	// LatestVersions returns the highest version per journable id of a kind.
	LatestVersions(ctx context.Context, kind string, ids []int64) (map[int64]int, error)
}

// ChecksumRepository computes reference freshness fingerprints in bulk.
type ChecksumRepository interface {
	// Checksums returns a 32 character hex digest per existing id.
	Checksums(ctx context.Context, schema *domain.Schema, ids []int64) (map[int64]string, error)
}

// StateReader loads the current persisted state of a journable from its own table.
type StateReader interface {
	Load(ctx context.Context, schema *domain.Schema, id int64) (domain.Journable, domain.Associations, error)
}
