package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/metrics"
	"github.com/fastygo/journal/internal/testutil"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/repository/sqlite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.JournalCreated
}

func (p *recordingPublisher) PublishJournalCreated(_ context.Context, event domain.JournalCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// racingRepository inserts a rival entry with the same version before the
// first n inserts, simulating a concurrent writer winning the race.
type racingRepository struct {
	repository.JournalRepository
	races int
}

func (r *racingRepository) Insert(ctx context.Context, entry *domain.Entry) error {
	if r.races > 0 {
		r.races--
		rival := &domain.Entry{
			Ref:      entry.Ref,
			Version:  entry.Version,
			AuthorID: 99,
			Data: domain.Snapshot{Attributes: map[string]any{
				"subject":   "rival",
				"status_id": int64(1),
			}},
			Details: domain.ChangeSet{},
		}
		if err := r.JournalRepository.Insert(ctx, rival); err != nil {
			return err
		}
	}
	return r.JournalRepository.Insert(ctx, entry)
}

type fixture struct {
	db        *sqlite.Store
	repo      repository.JournalRepository
	store     *Store
	manager   *Manager
	publisher *recordingPublisher
}

func newFixture(t *testing.T, races int, retention RetentionPolicy) *fixture {
	t.Helper()
	db := testutil.OpenStore(t)
	registry := domain.DefaultRegistry()
	repo := &racingRepository{JournalRepository: sqlite.NewJournalRepository(db, registry), races: races}
	store := NewStore(repo, db, registry, nil, StoreConfig{RetryBackoff: time.Millisecond})
	publisher := &recordingPublisher{}
	return &fixture{
		db:        db,
		repo:      repo,
		store:     store,
		manager:   NewManager(store, publisher, nil, retention),
		publisher: publisher,
	}
}

func workPackage() *domain.WorkPackage {
	return &domain.WorkPackage{
		ID:          1,
		TypeID:      1,
		ProjectID:   1,
		Subject:     "Ship it",
		Description: "Hello\nWorld",
		StatusID:    1,
		PriorityID:  4,
		AuthorID:    42,
	}
}

func record(wp *domain.WorkPackage, overrides map[string]any) *domain.Record {
	attrs := wp.JournalAttributes()
	for k, v := range overrides {
		attrs[k] = v
	}
	return &domain.Record{Ref: wp.JournalRef(), Attributes: attrs}
}

func countJournals(t *testing.T, f *fixture, ref domain.Ref) int {
	t.Helper()
	entries, err := f.store.List(context.Background(), ref)
	require.NoError(t, err)
	return len(entries)
}

func TestManager_LineEndingOnlyEditThenStatusChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	created, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)
	assert.Equal(t, domain.Change{Old: nil, New: "Hello\nWorld"}, created.Details["description"])
	assert.NotContains(t, created.Details, "lock_version")

	wp.Description = "Hello\r\nWorld"
	wp.LockVersion++
	entry, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, 1, countJournals(t, f, wp.JournalRef()))

	wp.StatusID = 2
	entry, err = f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 43})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Version)
	assert.Equal(t, domain.ChangeSet{"status_id": {Old: int64(1), New: int64(2)}}, entry.Details)
	assert.Equal(t, 2, countJournals(t, f, wp.JournalRef()))

	latest, err := f.store.Latest(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.Equal(t, "Hello\r\nWorld", latest.Data.Attributes["description"])
	assert.Equal(t, int64(1), latest.OldValueFor("status_id"))
	assert.Equal(t, int64(2), latest.NewValueFor("status_id"))
}

func TestManager_BlankAndNullEquivalence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: record(wp, map[string]any{"description": nil}), AuthorID: 42})
	require.NoError(t, err)

	entry, err := f.manager.RecordChange(ctx, Change{Entity: record(wp, map[string]any{"description": ""}), AuthorID: 42})
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = f.manager.RecordChange(ctx, Change{Entity: record(wp, map[string]any{"description": "text"}), AuthorID: 42})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.ChangeSet{"description": {Old: nil, New: "text"}}, entry.Details)
}

func TestManager_NoteForcesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)

	entry, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 43, Notes: "Looked at it, nothing to do."})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Version)
	assert.False(t, entry.Details.IsChanged())
	assert.Equal(t, "Looked at it, nothing to do.", entry.Notes)

	entry, err = f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 43, Notes: "   "})
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestManager_AssociationChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42, Associations: domain.Associations{
		"custom_fields": {{Key: 3, Value: "blue"}},
	}})
	require.NoError(t, err)

	entry, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42, Associations: domain.Associations{
		"attachments":   {{Key: 5, Value: "a.png"}},
		"custom_fields": {{Key: 3, Value: "blue"}},
	}})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.ChangeSet{"attachments_5": {Old: nil, New: "a.png"}}, entry.Details)

	entry, err = f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42, Associations: domain.Associations{
		"attachments":   {{Key: 5, Value: "a.png\n"}},
		"custom_fields": {{Key: 3, Value: "blue\r\n"}},
	}})
	require.NoError(t, err)
	assert.Nil(t, entry, "trailing newline variance is not a change")

	wp.Subject = "Ship it now"
	entry, err = f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42, Associations: domain.Associations{
		"custom_fields": {{Key: 3, Value: ""}},
	}})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.ChangeSet{
		"subject":         {Old: "Ship it", New: "Ship it now"},
		"attachments_5":   {Old: "a.png", New: nil},
		"custom_fields_3": {Old: "blue", New: nil},
	}, entry.Details)
}

func TestManager_MalformedSnapshotRejectsMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()
	testutil.InsertWorkPackage(t, f.db.DB(), wp.ID, wp.Subject, wp.Description)

	err := f.db.InTx(ctx, func(ctx context.Context) error {
		if _, err := f.db.ExecContext(ctx, `UPDATE work_packages SET subject = NULL WHERE id = ?`, wp.ID); err != nil {
			return err
		}
		_, err := f.manager.RecordChange(ctx, Change{Entity: record(wp, map[string]any{"subject": nil}), AuthorID: 42})
		return err
	})
	require.ErrorIs(t, err, domain.ErrMalformedSnapshot)

	var subject string
	require.NoError(t, f.db.DB().QueryRow(`SELECT subject FROM work_packages WHERE id = ?`, wp.ID).Scan(&subject))
	assert.Equal(t, wp.Subject, subject)
	assert.Zero(t, countJournals(t, f, wp.JournalRef()))
}

func TestManager_Authors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 0})
	assert.ErrorIs(t, err, domain.ErrMissingAuthor)

	entry, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: domain.DefaultTombstoneActorID})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTombstoneActorID, entry.AuthorID)

	_, err = f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	assert.ErrorIs(t, err, domain.ErrConsistencyViolation)
}

func TestManager_UnknownKind(t *testing.T) {
	f := newFixture(t, 0, RetainJournals)
	_, err := f.manager.RecordChange(context.Background(), Change{
		Entity:   &domain.Record{Ref: domain.Ref{Kind: "meeting", ID: 1}},
		AuthorID: 42,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestManager_NotificationsAfterCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42, SendNotifications: true})
	require.NoError(t, err)
	require.Equal(t, 1, f.publisher.count())
	assert.Equal(t, 1, f.publisher.events[0].Version)
	assert.NotEmpty(t, f.publisher.events[0].ID)

	wp.StatusID = 2
	_, err = f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	assert.Equal(t, 1, f.publisher.count(), "notifications disabled")

	err = f.db.InTx(ctx, func(ctx context.Context) error {
		wp.StatusID = 1
		_, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42, SendNotifications: true})
		require.NoError(t, err)
		assert.Equal(t, 1, f.publisher.count(), "not published before commit")
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, 1, f.publisher.count(), "rolled back entries are never announced")
	assert.Equal(t, 2, countJournals(t, f, wp.JournalRef()))

	err = f.db.InTx(ctx, func(ctx context.Context) error {
		_, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42, SendNotifications: true})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.publisher.count())
	assert.Equal(t, []string{"status_id"}, f.publisher.events[1].Keys)
}

func TestManager_Monotonicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		wp.DoneRatio = (i + 1) * 10
		_, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42})
		require.NoError(t, err)
	}

	entries, err := f.store.List(ctx, wp.JournalRef())
	require.NoError(t, err)
	require.Len(t, entries, 11)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestManager_Retention(t *testing.T) {
	ctx := context.Background()

	retain := newFixture(t, 0, RetainJournals)
	wp := workPackage()
	_, err := retain.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	n, err := retain.manager.OnJournableDeleted(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, countJournals(t, retain, wp.JournalRef()))

	cascade := newFixture(t, 0, CascadeJournals)
	_, err = cascade.manager.RecordCreation(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	n, err = cascade.manager.OnJournableDeleted(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, countJournals(t, cascade, wp.JournalRef()))
}

func TestParseRetentionPolicy(t *testing.T) {
	p, err := ParseRetentionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RetainJournals, p)

	p, err = ParseRetentionPolicy("cascade")
	require.NoError(t, err)
	assert.Equal(t, CascadeJournals, p)

	_, err = ParseRetentionPolicy("archive")
	assert.Error(t, err)
}

func TestStore_RetriesOnceAfterCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, RetainJournals)
	wp := workPackage()

	entry, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Version)
	assert.Equal(t, domain.Change{Old: "rival", New: "Ship it"}, entry.Details["subject"])
	assert.NotContains(t, entry.Details, "status_id")

	entries, err := f.store.List(ctx, wp.JournalRef())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(99), entries[0].AuthorID)
}

func TestStore_SecondCollisionIsConsistencyViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, RetainJournals)
	wp := workPackage()

	_, err := f.manager.RecordChange(ctx, Change{Entity: wp, AuthorID: 42})
	require.ErrorIs(t, err, domain.ErrConsistencyViolation)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeConsistency))
	assert.Zero(t, countJournals(t, f, wp.JournalRef()), "the enclosing transaction is aborted")
}

func TestStore_AppendWithoutPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	ref := domain.Ref{Kind: domain.KindNews, ID: 3}

	latest, err := f.store.Latest(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, latest)

	entry, err := f.store.Append(ctx, ref, 42, "", domain.Snapshot{Attributes: map[string]any{
		"title":     "Release",
		"summary":   "",
		"author_id": int64(42),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, domain.ChangeSet{
		"title":     {Old: nil, New: "Release"},
		"author_id": {Old: nil, New: int64(42)},
	}, entry.Details)

	got, err := f.store.Get(ctx, ref, 1)
	require.NoError(t, err)
	assert.Equal(t, entry.Details, got.Details)
}

func TestManager_RecordFromState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, RetainJournals)
	f.manager.WithStateReader(sqlite.NewStateReader(f.db))
	ref := domain.Ref{Kind: domain.KindWorkPackage, ID: 5}
	appended := metrics.JournalsAppended.WithLabelValues(domain.KindWorkPackage)
	skipped := metrics.JournalsSkipped.WithLabelValues(domain.KindWorkPackage)
	appendedBefore, skippedBefore := promtest.ToFloat64(appended), promtest.ToFloat64(skipped)

	_, err := f.manager.RecordFromState(ctx, ref, 42, "", true)
	assert.ErrorIs(t, err, domain.ErrJournableNotFound)

	testutil.InsertWorkPackage(t, f.db.DB(), 5, "From the database", "")
	entry, err := f.manager.RecordFromState(ctx, ref, 42, "", true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, "From the database", entry.Data.Attributes["subject"])

	entry, err = f.manager.RecordFromState(ctx, ref, 42, "", true)
	require.NoError(t, err)
	assert.Nil(t, entry)

	testutil.Exec(t, f.db.DB(), "UPDATE work_packages SET subject = ? WHERE id = ?", "Renamed", 5)
	entry, err = f.manager.RecordFromState(ctx, ref, 43, "renamed", true)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Version)
	assert.Equal(t, domain.Change{Old: "From the database", New: "Renamed"}, entry.Details["subject"])
	assert.Equal(t, 2, f.publisher.count())
	assert.Equal(t, appendedBefore+2, promtest.ToFloat64(appended))
	assert.Equal(t, skippedBefore+1, promtest.ToFloat64(skipped))
}
