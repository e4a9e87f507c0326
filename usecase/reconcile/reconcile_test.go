package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/diff"
	"github.com/fastygo/journal/internal/testutil"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/repository/sqlite"
	"github.com/fastygo/journal/usecase/journal"
)

type fixture struct {
	db      *sqlite.Store
	repo    repository.JournalRepository
	manager *journal.Manager
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenStore(t)
	registry := domain.DefaultRegistry()
	repo := sqlite.NewJournalRepository(db, registry)
	store := journal.NewStore(repo, db, registry, nil, journal.StoreConfig{})
	return &fixture{
		db:      db,
		repo:    repo,
		manager: journal.NewManager(store, nil, nil, journal.RetainJournals),
		service: NewService(repo, db, sqlite.NewStateReader(db), registry, nil, 0),
	}
}

func wpSchema(t *testing.T) *domain.Schema {
	t.Helper()
	s, err := domain.DefaultRegistry().Lookup(domain.KindWorkPackage)
	require.NoError(t, err)
	return s
}

func workPackage() *domain.WorkPackage {
	return &domain.WorkPackage{
		ID:          1,
		LockVersion: 4,
		TypeID:      1,
		ProjectID:   1,
		Subject:     "Ship it",
		Description: "Hello\r\nWorld",
		StatusID:    1,
		PriorityID:  4,
		AuthorID:    42,
	}
}

func TestRecreateInitialJournal_MatchesOrganicEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wp := workPackage()
	assocs := domain.Associations{
		"attachments":   {{Key: 3, Value: "spec.pdf"}},
		"custom_fields": {{Key: 1, Value: "blue"}, {Key: 2, Value: ""}},
	}

	organic, err := f.manager.RecordCreation(ctx, journal.Change{Entity: wp, Associations: assocs, AuthorID: 42, Notes: "created"})
	require.NoError(t, err)

	preview, err := f.service.Preview(ctx, wp, assocs, 7)
	require.NoError(t, err)
	assert.True(t, diff.Identical(wpSchema(t), organic.Details, preview.Details))
	for key, change := range preview.Details {
		assert.False(t, domain.IsTechnical(key), key)
		assert.NotEqual(t, change.Old, change.New, key)
	}

	rebuilt, err := f.service.RecreateInitialJournal(ctx, wp, assocs, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rebuilt.AuthorID)
	assert.Equal(t, "created", rebuilt.Notes)
	assert.Equal(t, organic.ID, rebuilt.ID)

	stored, err := f.repo.Get(ctx, wp.JournalRef(), 1)
	require.NoError(t, err)
	assert.True(t, diff.Identical(wpSchema(t), organic.Details, stored.Details))
	assert.Equal(t, int64(42), stored.AuthorID)
}

func TestRecreateFromState_InsertsMissingInitialJournal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.InsertWorkPackage(t, f.db.DB(), 5, "Backfilled", "Hello\nWorld")
	testutil.Exec(t, f.db.DB(), `INSERT INTO attachments (id, container_id, container_type, filename) VALUES (9, 5, 'WorkPackage', 'a.png')`)
	ref := domain.Ref{Kind: domain.KindWorkPackage, ID: 5}

	_, err := f.service.RecreateFromState(ctx, ref, 0)
	assert.ErrorIs(t, err, domain.ErrMissingAuthor)

	entry, err := f.service.RecreateFromState(ctx, ref, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, domain.Change{Old: nil, New: "Backfilled"}, entry.Details["subject"])
	assert.Equal(t, domain.Change{Old: nil, New: "a.png"}, entry.Details["attachments_9"])
	assert.NotContains(t, entry.Details, "lock_version")
	assert.NotContains(t, entry.Details, "updated_at")

	again, err := f.service.RecreateFromState(ctx, ref, 43)
	require.NoError(t, err)
	assert.Equal(t, int64(42), again.AuthorID)
	assert.True(t, diff.Identical(wpSchema(t), entry.Details, again.Details))

	entries, err := f.repo.List(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.service.RecreateFromState(ctx, domain.Ref{Kind: domain.KindWorkPackage, ID: 404}, 42)
	assert.ErrorIs(t, err, domain.ErrJournableNotFound)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, journal.Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	wp.StatusID = 2
	_, err = f.manager.RecordChange(ctx, journal.Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	_, err = f.manager.RecordChange(ctx, journal.Change{Entity: wp, AuthorID: 42, Notes: "note only"})
	require.NoError(t, err)

	report, err := f.service.Verify(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Versions)

	latest, err := f.repo.Latest(ctx, wp.JournalRef())
	require.NoError(t, err)
	tampered := &domain.Entry{
		Ref:      wp.JournalRef(),
		Version:  5,
		AuthorID: 42,
		Data:     latest.Data,
		Details:  domain.ChangeSet{"subject": {Old: "a", New: "b"}},
	}
	require.NoError(t, f.repo.Insert(ctx, tampered))

	report, err = f.service.Verify(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []int{4}, report.Gaps)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, Mismatch{Version: 5, Keys: []string{"subject"}}, report.Mismatches[0])
}

func TestVerify_TrailingNewlineInAttribute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wp := workPackage()

	_, err := f.manager.RecordCreation(ctx, journal.Change{Entity: wp, AuthorID: 42})
	require.NoError(t, err)
	latest, err := f.repo.Latest(ctx, wp.JournalRef())
	require.NoError(t, err)

	attrs := make(map[string]any, len(latest.Data.Attributes))
	for k, v := range latest.Data.Attributes {
		attrs[k] = v
	}
	attrs["description"] = "Hello\nWorld\n"
	tampered := &domain.Entry{
		Ref:      wp.JournalRef(),
		Version:  2,
		AuthorID: 42,
		Data:     domain.Snapshot{Attributes: attrs, Associations: latest.Data.Associations},
		Details:  domain.ChangeSet{"description": {Old: "Hello\r\nWorld", New: "Hello\nWorld"}},
	}
	require.NoError(t, f.repo.Insert(ctx, tampered))

	report, err := f.service.Verify(ctx, wp.JournalRef())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Empty(t, report.Gaps)
	assert.Equal(t, []Mismatch{{Version: 2, Keys: []string{"description"}}}, report.Mismatches)
}
