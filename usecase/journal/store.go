// Package journal implements the append-only journal store and the change
// manager that decides when a mutation warrants a new entry.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/diff"
	"github.com/fastygo/journal/internal/metrics"
	"github.com/fastygo/journal/pkg/logger"
	"github.com/fastygo/journal/repository"
)

// StoreConfig tunes the journal store.
type StoreConfig struct {
	RetryBackoff     time.Duration
	TombstoneActorID int64
}

// Store is the append-only ledger of journal entries.
type Store struct {
	journals  repository.JournalRepository
	tx        repository.Transactor
	registry  *domain.Registry
	logger    *zap.Logger
	backoff   time.Duration
	tombstone int64
	now       func() time.Time
}

func NewStore(
	journals repository.JournalRepository,
	tx repository.Transactor,
	registry *domain.Registry,
	logger *zap.Logger,
	cfg StoreConfig,
) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	if cfg.TombstoneActorID == 0 {
		cfg.TombstoneActorID = domain.DefaultTombstoneActorID
	}
	return &Store{
		journals:  journals,
		tx:        tx,
		registry:  registry,
		logger:    logger,
		backoff:   cfg.RetryBackoff,
		tombstone: cfg.TombstoneActorID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type appendRequest struct {
	ref      domain.Ref
	authorID int64
	notes    string
	snapshot domain.Snapshot
	// skipUnchanged returns no entry when neither details nor notes exist.
	skipUnchanged bool
	// initial requires the entry to become version 1.
	initial bool
}

// Append stores snap as the next version of ref with the change set computed
// against the previous entry. It joins the transaction on ctx.
func (s *Store) Append(ctx context.Context, ref domain.Ref, authorID int64, notes string, snap domain.Snapshot) (*domain.Entry, error) {
	return s.append(ctx, appendRequest{ref: ref, authorID: authorID, notes: notes, snapshot: snap})
}

// Latest returns the newest entry or nil when the journable has none.
func (s *Store) Latest(ctx context.Context, ref domain.Ref) (*domain.Entry, error) {
	entry, err := s.journals.Latest(ctx, ref)
	if errors.Is(err, domain.ErrJournalNotFound) {
		return nil, nil
	}
	return entry, err
}

// List returns all entries ascending by version.
func (s *Store) List(ctx context.Context, ref domain.Ref) ([]domain.Entry, error) {
	return s.journals.List(ctx, ref)
}

func (s *Store) Get(ctx context.Context, ref domain.Ref, version int) (*domain.Entry, error) {
	return s.journals.Get(ctx, ref, version)
}

// DeleteAll removes the whole history of ref.
func (s *Store) DeleteAll(ctx context.Context, ref domain.Ref) (int64, error) {
	return s.journals.DeleteAll(ctx, ref)
}

// TombstoneActorID is the author substituted for deleted actors.
func (s *Store) TombstoneActorID() int64 {
	return s.tombstone
}

func (s *Store) append(ctx context.Context, req appendRequest) (*domain.Entry, error) {
	schema, err := s.registry.Lookup(req.ref.Kind)
	if err != nil {
		return nil, err
	}
	if !domain.ValidAuthor(req.authorID, s.tombstone) {
		return nil, domain.ErrMissingAuthor
	}
	log := logger.WithJournable(s.logger, req.ref)

	ctx, span := otel.Tracer("journal").Start(ctx, "journal.Store.Append",
		trace.WithAttributes(
			attribute.String("journable.kind", req.ref.Kind),
			attribute.Int64("journable.id", req.ref.ID),
		),
	)
	defer span.End()

	var entry *domain.Entry
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var attempted int
		entry, attempted, err = s.tryAppend(ctx, schema, req, 0)
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}

		log.Warn("journal version collision, retrying", zap.Int("version", attempted))
		metrics.VersionCollisions.WithLabelValues("retried").Inc()
		span.AddEvent("version collision")
		if err := sleep(ctx, s.backoff); err != nil {
			return err
		}

		entry, attempted, err = s.tryAppend(ctx, schema, req, attempted)
		if errors.Is(err, domain.ErrVersionConflict) {
			log.Error("journal version collided twice", zap.Int("version", attempted))
			metrics.VersionCollisions.WithLabelValues("fatal").Inc()
			return domain.Inconsistent("version %d of %s collided after retry", attempted, req.ref)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if entry == nil {
		metrics.JournalsSkipped.WithLabelValues(req.ref.Kind).Inc()
		return nil, nil
	}
	span.SetAttributes(attribute.Int("journal.version", entry.Version))
	metrics.JournalsAppended.WithLabelValues(req.ref.Kind).Inc()
	return entry, nil
}

// tryAppend computes the next version and inserts it. collided is the version
// that lost a previous race, or zero on the first attempt.
func (s *Store) tryAppend(ctx context.Context, schema *domain.Schema, req appendRequest, collided int) (*domain.Entry, int, error) {
	prev, err := s.Latest(ctx, req.ref)
	if err != nil {
		return nil, 0, err
	}

	version := 1
	var prevSnap *domain.Snapshot
	if prev != nil {
		version = prev.Version + 1
		prevSnap = &prev.Data
	}
	if collided > 0 && version <= collided {
		return nil, version, domain.Inconsistent("latest version of %s is %d, behind collided version %d", req.ref, version-1, collided)
	}
	if req.initial && prev != nil {
		return nil, version, domain.Inconsistent("%s already has %d journal entries", req.ref, prev.Version)
	}

	details := diff.Diff(schema, prevSnap, &req.snapshot)
	if req.skipUnchanged && !details.IsChanged() && strings.TrimSpace(req.notes) == "" {
		return nil, version, nil
	}

	entry := &domain.Entry{
		Ref:       req.ref,
		Version:   version,
		AuthorID:  req.authorID,
		Notes:     req.notes,
		Data:      req.snapshot,
		Details:   details,
		CreatedAt: s.now(),
	}
	if err := s.journals.Insert(ctx, entry); err != nil {
		return nil, version, err
	}
	return entry, version, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
