package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/journal/api/transport"
	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/pkg/httpcontext"
	"github.com/fastygo/journal/repository"
	"github.com/fastygo/journal/usecase/reconcile"
)

// Reconciler verifies and repairs journal histories.
type Reconciler interface {
	Verify(ctx context.Context, ref domain.Ref) (*reconcile.Report, error)
	RecreateFromState(ctx context.Context, ref domain.Ref, authorID int64) (*domain.Entry, error)
}

// ActorRewriter reassigns authorship of a deleted actor.
type ActorRewriter interface {
	OnActorDeleted(ctx context.Context, actorID int64) (int64, error)
}

type AdminHandler struct {
	baseHandler
	reconciler Reconciler
	rewriter   ActorRewriter
	cache      repository.RepresentationCache
	tombstone  int64
}

// NewAdminHandler builds the maintenance endpoints. cache may be nil.
func NewAdminHandler(
	reconciler Reconciler,
	rewriter ActorRewriter,
	cache repository.RepresentationCache,
	tombstone int64,
	adapter *httpcontext.Adapter,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		baseHandler: newBaseHandler(adapter, logger),
		reconciler:  reconciler,
		rewriter:    rewriter,
		cache:       cache,
		tombstone:   tombstone,
	}
}

// @Summary Verify a journal history
// @Tags admin
// @Router /api/v1/journals/{kind}/{id}/verify [post]
func (h *AdminHandler) Verify(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ref, err := journableRef(ctx)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	report, err := h.reconciler.Verify(reqCtx, ref)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(report, map[string]bool{"ok": report.OK()}))
}

// @Summary Rebuild the initial journal from current state
// @Tags admin
// @Router /api/v1/journals/{kind}/{id}/recreate-initial [post]
func (h *AdminHandler) RecreateInitial(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ref, err := journableRef(ctx)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	actorID, ok := httpcontext.ActorID(reqCtx)
	if !ok {
		h.respondError(reqCtx, ctx, domain.ErrUnauthorized)
		return
	}
	entry, err := h.reconciler.RecreateFromState(reqCtx, ref, actorID)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	// Rewriting version 1 leaves the latest version, and so the token, unchanged.
	if h.cache != nil {
		if err := h.cache.Invalidate(reqCtx, ref); err != nil {
			h.logger.Warn("representation cache invalidation failed", zap.Error(err))
		}
	}
	h.respondSuccess(ctx, http.StatusOK, entry)
}

// @Summary Rewrite authorship of a deleted actor
// @Tags admin
// @Router /api/v1/actors/{id} [delete]
func (h *AdminHandler) DeleteActor(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	rawID, _ := ctx.UserValue("id").(string)
	actorID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		h.respondError(reqCtx, ctx, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message, err))
		return
	}
	rewritten, err := h.rewriter.OnActorDeleted(reqCtx, actorID)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.ActorRewrite{
		ActorID:   actorID,
		Tombstone: h.tombstone,
		Rewritten: rewritten,
	})
}
