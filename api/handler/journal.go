package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/journal/api/transport"
	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/pkg/httpcontext"
	"github.com/fastygo/journal/repository"
)

// JournalReader lists the history of one journable.
type JournalReader interface {
	List(ctx context.Context, ref domain.Ref) ([]domain.Entry, error)
}

// TokenSource produces validation tokens per journable id.
type TokenSource interface {
	Tokens(ctx context.Context, kind string, ids []int64) (map[int64]string, error)
}

type JournalHandler struct {
	baseHandler
	journals JournalReader
	tokens   TokenSource
	cache    repository.RepresentationCache
	ttl      time.Duration
}

// NewJournalHandler builds the read handler. cache may be nil.
func NewJournalHandler(
	journals JournalReader,
	tokens TokenSource,
	cache repository.RepresentationCache,
	ttl time.Duration,
	adapter *httpcontext.Adapter,
	logger *zap.Logger,
) *JournalHandler {
	return &JournalHandler{
		baseHandler: newBaseHandler(adapter, logger),
		journals:    journals,
		tokens:      tokens,
		cache:       cache,
		ttl:         ttl,
	}
}

// @Summary List journals of a journable
// @Tags journals
// @Router /api/v1/journals/{kind}/{id} [get]
func (h *JournalHandler) List(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ref, err := journableRef(ctx)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}

	tokens, err := h.tokens.Tokens(reqCtx, ref.Kind, []int64{ref.ID})
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}

	// The journable row may be gone while its journals are retained; such
	// listings are served without a token and never cached.
	token := tokens[ref.ID]
	if token != "" {
		ctx.Response.Header.Set(fasthttp.HeaderETag, quoteETag(token))
		if etagMatches(string(ctx.Request.Header.Peek(fasthttp.HeaderIfNoneMatch)), token) {
			ctx.SetStatusCode(fasthttp.StatusNotModified)
			return
		}
		if body, ok := h.cached(reqCtx, ref, token); ok {
			ctx.Response.Header.Set("X-Cache", "HIT")
			h.respondBody(ctx, http.StatusOK, body)
			return
		}
	}

	entries, err := h.journals.List(reqCtx, ref)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	if len(entries) == 0 {
		h.respondError(reqCtx, ctx, domain.ErrJournalNotFound)
		return
	}

	body, err := json.Marshal(transport.NewSuccess(
		transport.JournalList{Journable: ref, Entries: entries},
		transport.ListMeta{Count: len(entries), Token: token},
	))
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	if token != "" {
		h.store(reqCtx, ref, token, body)
	}
	h.respondBody(ctx, http.StatusOK, body)
}

func (h *JournalHandler) cached(ctx context.Context, ref domain.Ref, token string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	rep, err := h.cache.Get(ctx, ref, token)
	if err != nil {
		if !domain.IsDomainError(err, domain.ErrCodeNotFound) {
			h.logger.Warn("representation cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return rep.Body, true
}

func (h *JournalHandler) store(ctx context.Context, ref domain.Ref, token string, body []byte) {
	if h.cache == nil {
		return
	}
	now := time.Now().UTC()
	rep := &domain.Representation{
		Journable: ref,
		Token:     token,
		Body:      body,
		CreatedAt: now,
		ExpiresAt: now.Add(h.ttl),
	}
	if err := h.cache.Save(ctx, rep, h.ttl); err != nil {
		h.logger.Warn("representation cache write failed", zap.Error(err))
	}
}

func quoteETag(token string) string {
	return `"` + token + `"`
}

func etagMatches(header, token string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == token {
			return true
		}
	}
	return false
}
