package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/snapshot"
	"github.com/fastygo/journal/pkg/logger"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/usecase"
)

// RetentionPolicy decides what happens to journals when their journable is deleted.
type RetentionPolicy string

const (
	RetainJournals  RetentionPolicy = "retain"
	CascadeJournals RetentionPolicy = "cascade"
)

// ParseRetentionPolicy validates a configured policy name.
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch p := RetentionPolicy(s); p {
	case RetainJournals, CascadeJournals:
		return p, nil
	case "":
		return RetainJournals, nil
	}
	return "", fmt.Errorf("unknown retention policy %q", s)
}

// Change describes one mutation of a journable. Associations carry the
// caller's view of every tracked association after the mutation.
type Change struct {
	Entity            domain.Journable
	Associations      domain.Associations
	AuthorID          int64
	Notes             string
	SendNotifications bool
}

// Manager decides whether a mutation warrants a journal entry and records it.
type Manager struct {
	store     *Store
	publisher usecase.EventPublisher
	logger    *zap.Logger
	retention RetentionPolicy
	state     repository.StateReader
}

func NewManager(store *Store, publisher usecase.EventPublisher, logger *zap.Logger, retention RetentionPolicy) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention == "" {
		retention = RetainJournals
	}
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		retention: retention,
	}
}

// WithStateReader enables RecordFromState.
func (m *Manager) WithStateReader(state repository.StateReader) *Manager {
	m.state = state
	return m
}

// RecordFromState journals the persisted state of ref, for hosts that write
// the entity themselves and report the mutation afterwards. The state is read
// in the same transaction as the append.
func (m *Manager) RecordFromState(ctx context.Context, ref domain.Ref, authorID int64, notes string, notify bool) (*domain.Entry, error) {
	if m.state == nil {
		return nil, fmt.Errorf("record %s: no state reader configured", ref)
	}
	schema, err := m.store.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}

	var entry *domain.Entry
	err = m.store.tx.InTx(ctx, func(ctx context.Context) error {
		entity, assocs, err := m.state.Load(ctx, schema, ref.ID)
		if err != nil {
			return err
		}
		entry, err = m.record(ctx, Change{
			Entity:            entity,
			Associations:      assocs,
			AuthorID:          authorID,
			Notes:             notes,
			SendNotifications: notify,
		}, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordChange snapshots the entity and appends an entry when the snapshot
// differs from the latest one or a note is supplied. It returns nil without
// error when nothing changed.
func (m *Manager) RecordChange(ctx context.Context, change Change) (*domain.Entry, error) {
	return m.record(ctx, change, false)
}

// RecordCreation journals a newly created entity as version 1. It fails with
// a consistency violation if the entity already has journals.
func (m *Manager) RecordCreation(ctx context.Context, change Change) (*domain.Entry, error) {
	return m.record(ctx, change, true)
}

func (m *Manager) record(ctx context.Context, change Change, initial bool) (*domain.Entry, error) {
	if change.Entity == nil {
		return nil, domain.ErrInvalidPayload
	}
	ref := change.Entity.JournalRef()
	log := logger.WithJournable(logger.WithRequestID(ctx, m.logger), ref)

	schema, err := m.store.registry.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Take(schema, change.Entity, change.Associations)
	if err != nil {
		log.Warn("rejecting malformed snapshot", zap.Error(err))
		return nil, err
	}

	entry, err := m.store.append(ctx, appendRequest{
		ref:           ref,
		authorID:      change.AuthorID,
		notes:         change.Notes,
		snapshot:      snap,
		skipUnchanged: !initial,
		initial:       initial,
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		log.Debug("no change, journal skipped")
		return nil, nil
	}

	log.Info("journal appended",
		zap.Int("version", entry.Version),
		zap.Int64("author_id", entry.AuthorID),
		zap.Strings("changed", entry.Details.Keys()))

	if change.SendNotifications && m.publisher != nil {
		event := domain.JournalCreated{
			ID:        uuid.NewString(),
			JournalID: entry.ID,
			Journable: ref,
			Version:   entry.Version,
			AuthorID:  entry.AuthorID,
			Notes:     entry.Notes,
			Keys:      entry.Details.Keys(),
			CreatedAt: entry.CreatedAt,
		}
		repository.AfterCommit(ctx, func() {
			if err := m.publisher.PublishJournalCreated(context.Background(), event); err != nil {
				log.Error("failed to publish journal event", zap.String("event_id", event.ID), zap.Error(err))
			}
		})
	}
	return entry, nil
}

// OnJournableDeleted applies the retention policy to the history of ref.
func (m *Manager) OnJournableDeleted(ctx context.Context, ref domain.Ref) (int64, error) {
	log := logger.WithJournable(m.logger, ref)
	if m.retention != CascadeJournals {
		log.Debug("journals retained after deletion")
		return 0, nil
	}
	n, err := m.store.DeleteAll(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("cascade journals of %s: %w", ref, err)
	}
	log.Info("journals cascaded", zap.Int64("deleted", n))
	return n, nil
}
