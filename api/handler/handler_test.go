package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/pkg/httpcontext"
	redisRepo "github.com/fastygo/journal/repository/redis"
	"github.com/fastygo/journal/usecase/reconcile"
)

type fakeJournals struct {
	entries []domain.Entry
	calls   int
}

func (f *fakeJournals) List(_ context.Context, _ domain.Ref) ([]domain.Entry, error) {
	f.calls++
	return f.entries, nil
}

type fakeTokens map[int64]string

func (f fakeTokens) Tokens(_ context.Context, kind string, ids []int64) (map[int64]string, error) {
	if kind != domain.KindWorkPackage {
		return nil, domain.ErrUnknownKind
	}
	out := map[int64]string{}
	for _, id := range ids {
		if token, ok := f[id]; ok {
			out[id] = token
		}
	}
	return out, nil
}

func (f fakeTokens) ChecksumFor(ctx context.Context, kind string, ids []int64) (map[int64]string, error) {
	return f.Tokens(ctx, kind, ids)
}

func requestFor(kind, id string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("kind", kind)
	ctx.SetUserValue("id", id)
	return ctx
}

func decodeEnvelope(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func newJournalHandler(t *testing.T, journals *fakeJournals, tokens fakeTokens) *JournalHandler {
	t.Helper()
	s := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := redisRepo.NewRepresentationCache(client, time.Minute)
	return NewJournalHandler(journals, tokens, cache, time.Minute, nil, nil)
}

func sampleEntries() []domain.Entry {
	ref := domain.Ref{Kind: domain.KindWorkPackage, ID: 7}
	return []domain.Entry{{
		ID:       1,
		Ref:      ref,
		Version:  1,
		AuthorID: 42,
		Data:     domain.Snapshot{Attributes: map[string]any{"subject": "Initial"}},
		Details:  domain.ChangeSet{"subject": {New: "Initial"}},
	}}
}

func TestJournalListConditionalAndCached(t *testing.T) {
	journals := &fakeJournals{entries: sampleEntries()}
	h := newJournalHandler(t, journals, fakeTokens{7: "abc-1"})

	first := requestFor(domain.KindWorkPackage, "7")
	h.List(first)
	require.Equal(t, http.StatusOK, first.Response.StatusCode())
	assert.Equal(t, `"abc-1"`, string(first.Response.Header.Peek(fasthttp.HeaderETag)))
	body := decodeEnvelope(t, first)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["count"])

	conditional := requestFor(domain.KindWorkPackage, "7")
	conditional.Request.Header.Set(fasthttp.HeaderIfNoneMatch, `W/"other", "abc-1"`)
	h.List(conditional)
	assert.Equal(t, http.StatusNotModified, conditional.Response.StatusCode())

	cached := requestFor(domain.KindWorkPackage, "7")
	h.List(cached)
	assert.Equal(t, http.StatusOK, cached.Response.StatusCode())
	assert.Equal(t, "HIT", string(cached.Response.Header.Peek("X-Cache")))
	assert.JSONEq(t, string(first.Response.Body()), string(cached.Response.Body()))
	assert.Equal(t, 1, journals.calls)
}

func TestJournalListWithoutTokenIsNotCached(t *testing.T) {
	journals := &fakeJournals{entries: sampleEntries()}
	h := newJournalHandler(t, journals, fakeTokens{})

	for i := 0; i < 2; i++ {
		ctx := requestFor(domain.KindWorkPackage, "7")
		h.List(ctx)
		assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
		assert.Empty(t, ctx.Response.Header.Peek(fasthttp.HeaderETag))
	}
	assert.Equal(t, 2, journals.calls)
}

func TestJournalListErrors(t *testing.T) {
	h := newJournalHandler(t, &fakeJournals{}, fakeTokens{})

	tests := []struct {
		name   string
		kind   string
		id     string
		status int
	}{
		{name: "bad id", kind: domain.KindWorkPackage, id: "x", status: http.StatusBadRequest},
		{name: "negative id", kind: domain.KindWorkPackage, id: "-3", status: http.StatusBadRequest},
		{name: "unknown kind", kind: "planet", id: "1", status: http.StatusBadRequest},
		{name: "no journals", kind: domain.KindWorkPackage, id: "9", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := requestFor(tt.kind, tt.id)
			h.List(ctx)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			assert.Equal(t, "error", decodeEnvelope(t, ctx)["status"])
		})
	}
}

func TestChecksumHandler(t *testing.T) {
	h := NewChecksumHandler(fakeTokens{1: "aaa", 2: "bbb"}, nil, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("kind", domain.KindWorkPackage)
	ctx.Request.SetRequestURI("/api/v1/checksums/work_package?ids=1,%202,3")
	h.Get(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	data := decodeEnvelope(t, ctx)["data"].(map[string]any)
	assert.Equal(t, map[string]any{"1": "aaa", "2": "bbb"}, data["checksums"])

	bad := &fasthttp.RequestCtx{}
	bad.SetUserValue("kind", domain.KindWorkPackage)
	bad.Request.SetRequestURI("/api/v1/checksums/work_package?ids=1,x")
	h.Get(bad)
	assert.Equal(t, http.StatusBadRequest, bad.Response.StatusCode())

	missing := &fasthttp.RequestCtx{}
	missing.SetUserValue("kind", domain.KindWorkPackage)
	missing.Request.SetRequestURI("/api/v1/checksums/work_package")
	h.Get(missing)
	assert.Equal(t, http.StatusBadRequest, missing.Response.StatusCode())
}

type fakeReconciler struct {
	report *reconcile.Report
}

func (f fakeReconciler) Verify(_ context.Context, ref domain.Ref) (*reconcile.Report, error) {
	report := *f.report
	report.Journable = ref
	return &report, nil
}

func (f fakeReconciler) RecreateFromState(_ context.Context, ref domain.Ref, authorID int64) (*domain.Entry, error) {
	return &domain.Entry{Ref: ref, Version: 1, AuthorID: authorID}, nil
}

type fakeRewriter struct{ err error }

func (f fakeRewriter) OnActorDeleted(_ context.Context, actorID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func TestAdminHandler(t *testing.T) {
	report := &reconcile.Report{Versions: 3, Gaps: []int{2}}
	h := NewAdminHandler(fakeReconciler{report: report}, fakeRewriter{}, nil, -1, nil, nil)

	verify := requestFor(domain.KindWorkPackage, "7")
	h.Verify(verify)
	require.Equal(t, http.StatusOK, verify.Response.StatusCode())
	assert.Equal(t, false, decodeEnvelope(t, verify)["meta"].(map[string]any)["ok"])

	del := &fasthttp.RequestCtx{}
	del.SetUserValue("id", "42")
	h.DeleteActor(del)
	require.Equal(t, http.StatusOK, del.Response.StatusCode())
	data := decodeEnvelope(t, del)["data"].(map[string]any)
	assert.Equal(t, float64(3), data["rewritten"])
	assert.Equal(t, float64(-1), data["tombstone_actor_id"])

	recreate := requestFor(domain.KindWorkPackage, "7")
	h.RecreateInitial(recreate)
	assert.Equal(t, http.StatusUnauthorized, recreate.Response.StatusCode(), "no actor without the adapter")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrMalformedSnapshot, http.StatusBadRequest},
		{domain.ErrJournalNotFound, http.StatusNotFound},
		{domain.ErrVersionConflict, http.StatusConflict},
		{domain.Inconsistent("version %d", 3), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := mapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
	_, code := mapError(domain.Inconsistent("x"))
	assert.Equal(t, string(domain.ErrCodeConsistency), code)
}

type fakeRecorder struct {
	notify  bool
	notes   string
	author  int64
	unchg   bool
	deleted int64
}

func (f *fakeRecorder) RecordFromState(_ context.Context, ref domain.Ref, authorID int64, notes string, notify bool) (*domain.Entry, error) {
	f.author, f.notes, f.notify = authorID, notes, notify
	if f.unchg {
		return nil, nil
	}
	return &domain.Entry{Ref: ref, Version: 2, AuthorID: authorID, Notes: notes}, nil
}

func (f *fakeRecorder) OnJournableDeleted(_ context.Context, _ domain.Ref) (int64, error) {
	return f.deleted, nil
}

func withActor(ctx *fasthttp.RequestCtx, id int64) *fasthttp.RequestCtx {
	ctx.SetUserValue(httpcontext.UserValueActorID, id)
	return ctx
}

func TestRecordHandler(t *testing.T) {
	recorder := &fakeRecorder{deleted: 4}
	h := NewRecordHandler(recorder, true, httpcontext.NewAdapter(time.Second), nil)

	anonymous := requestFor(domain.KindWorkPackage, "7")
	h.Record(anonymous)
	assert.Equal(t, http.StatusUnauthorized, anonymous.Response.StatusCode())

	ctx := withActor(requestFor(domain.KindWorkPackage, "7"), 42)
	ctx.Request.SetBodyString(`{"notes":"fixed typo","send_notifications":false}`)
	h.Record(ctx)
	require.Equal(t, http.StatusCreated, ctx.Response.StatusCode())
	assert.Equal(t, int64(42), recorder.author)
	assert.Equal(t, "fixed typo", recorder.notes)
	assert.False(t, recorder.notify)

	recorder.unchg = true
	unchanged := withActor(requestFor(domain.KindWorkPackage, "7"), 42)
	h.Record(unchanged)
	assert.Equal(t, http.StatusNoContent, unchanged.Response.StatusCode())
	assert.True(t, recorder.notify)

	bad := withActor(requestFor(domain.KindWorkPackage, "7"), 42)
	bad.Request.SetBodyString(`{`)
	h.Record(bad)
	assert.Equal(t, http.StatusBadRequest, bad.Response.StatusCode())

	deleted := requestFor(domain.KindWorkPackage, "7")
	h.Deleted(deleted)
	require.Equal(t, http.StatusOK, deleted.Response.StatusCode())
	assert.Equal(t, float64(4), decodeEnvelope(t, deleted)["data"].(map[string]any)["deleted"])
}
