// Package reconcile rebuilds initial journals from current state and checks
// stored histories for gaps and self-consistency.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/diff"
	"github.com/fastygo/journal/internal/snapshot"
	"github.com/fastygo/journal/pkg/logger"
	"github.com/fastygo/journal/repository"
)

// Service runs maintenance operations over journal histories. It assumes
// exclusive access to the journables it rewrites.
type Service struct {
	journals  repository.JournalRepository
	tx        repository.Transactor
	state     repository.StateReader
	registry  *domain.Registry
	logger    *zap.Logger
	tombstone int64
	now       func() time.Time
}

func NewService(
	journals repository.JournalRepository,
	tx repository.Transactor,
	state repository.StateReader,
	registry *domain.Registry,
	logger *zap.Logger,
	tombstone int64,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tombstone == 0 {
		tombstone = domain.DefaultTombstoneActorID
	}
	return &Service{
		journals:  journals,
		tx:        tx,
		state:     state,
		registry:  registry,
		logger:    logger,
		tombstone: tombstone,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Preview returns what version 1 of the entity should look like, without
// persisting anything.
func (s *Service) Preview(ctx context.Context, entity domain.Journable, assocs domain.Associations, authorID int64) (*domain.Entry, error) {
	if entity == nil {
		return nil, domain.ErrInvalidPayload
	}
	ref := entity.JournalRef()
	schema, err := s.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Take(schema, entity, assocs)
	if err != nil {
		return nil, err
	}
	return &domain.Entry{
		Ref:       ref,
		Version:   1,
		AuthorID:  authorID,
		Data:      snap,
		Details:   diff.Diff(schema, nil, &snap),
		CreatedAt: s.now(),
	}, nil
}

// RecreateInitialJournal rebuilds version 1 from the entity's current state.
// An existing version 1 keeps its author, notes and timestamp; only its
// snapshot and details are replaced. Otherwise a new version 1 is inserted
// with authorID.
func (s *Service) RecreateInitialJournal(ctx context.Context, entity domain.Journable, assocs domain.Associations, authorID int64) (*domain.Entry, error) {
	rebuilt, err := s.Preview(ctx, entity, assocs, authorID)
	if err != nil {
		return nil, err
	}
	log := logger.WithJournable(s.logger, rebuilt.Ref)

	var result *domain.Entry
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.journals.Get(ctx, rebuilt.Ref, 1)
		switch {
		case errors.Is(err, domain.ErrJournalNotFound):
			if !domain.ValidAuthor(authorID, s.tombstone) {
				return domain.ErrMissingAuthor
			}
			if err := s.journals.Insert(ctx, rebuilt); err != nil {
				return fmt.Errorf("insert initial journal: %w", err)
			}
			log.Info("initial journal created")
			result = rebuilt
			return nil
		case err != nil:
			return err
		}

		if latest, err := s.journals.Latest(ctx, rebuilt.Ref); err == nil && latest.Version > 1 {
			log.Warn("recreating initial journal of a journable with later versions", zap.Int("latest_version", latest.Version))
		}

		existing.Data = rebuilt.Data
		existing.Details = rebuilt.Details
		if err := s.journals.UpdateInitial(ctx, existing); err != nil {
			return fmt.Errorf("replace initial journal: %w", err)
		}
		log.Info("initial journal replaced")
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecreateFromState loads the journable's persisted state and recreates its
// initial journal.
func (s *Service) RecreateFromState(ctx context.Context, ref domain.Ref, authorID int64) (*domain.Entry, error) {
	schema, err := s.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	if s.state == nil {
		return nil, fmt.Errorf("recreate %s: no state reader configured", ref)
	}
	entity, assocs, err := s.state.Load(ctx, schema, ref.ID)
	if err != nil {
		return nil, err
	}
	return s.RecreateInitialJournal(ctx, entity, assocs, authorID)
}

// Mismatch is a stored entry whose details disagree with the diff of its snapshot.
type Mismatch struct {
	Version int      `json:"version"`
	Keys    []string `json:"keys"`
}

// Report summarises a history check.
type Report struct {
	Journable  domain.Ref `json:"journable"`
	Versions   int        `json:"versions"`
	Gaps       []int      `json:"gaps,omitempty"`
	Duplicates []int      `json:"duplicates,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether the history is gapless and self-consistent.
func (r *Report) OK() bool {
	return len(r.Gaps) == 0 && len(r.Duplicates) == 0 && len(r.Mismatches) == 0
}

// Verify checks that versions form 1..N and that each entry's details equal
// the diff of its snapshot against the previous one.
func (s *Service) Verify(ctx context.Context, ref domain.Ref) (*Report, error) {
	schema, err := s.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	entries, err := s.journals.List(ctx, ref)
	if err != nil {
		return nil, err
	}

	report := &Report{Journable: ref, Versions: len(entries)}
	expected := 1
	var prev *domain.Snapshot
	for i := range entries {
		entry := &entries[i]
		switch {
		case entry.Version < expected:
			report.Duplicates = append(report.Duplicates, entry.Version)
		case entry.Version > expected:
			for v := expected; v < entry.Version; v++ {
				report.Gaps = append(report.Gaps, v)
			}
		}
		if entry.Version >= expected {
			expected = entry.Version + 1
		}

		want := diff.Diff(schema, prev, &entry.Data)
		if !diff.Identical(schema, want, entry.Details) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Version: entry.Version,
				Keys:    diff.Mismatch(schema, want, entry.Details),
			})
		}
		prev = &entry.Data
	}

	if !report.OK() {
		logger.WithJournable(s.logger, ref).Warn("journal history inconsistent",
			zap.Ints("gaps", report.Gaps),
			zap.Int("mismatches", len(report.Mismatches)))
	}
	return report, nil
}
