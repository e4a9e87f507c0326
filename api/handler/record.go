package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/journal/api/transport"
	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/pkg/httpcontext"
)

// JournalRecorder appends journals for mutations the host has persisted.
type JournalRecorder interface {
	RecordFromState(ctx context.Context, ref domain.Ref, authorID int64, notes string, notify bool) (*domain.Entry, error)
	OnJournableDeleted(ctx context.Context, ref domain.Ref) (int64, error)
}

type RecordHandler struct {
	baseHandler
	recorder      JournalRecorder
	notifyDefault bool
}

func NewRecordHandler(recorder JournalRecorder, notifyDefault bool, adapter *httpcontext.Adapter, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{
		baseHandler:   newBaseHandler(adapter, logger),
		recorder:      recorder,
		notifyDefault: notifyDefault,
	}
}

// @Summary Journal the current state of a journable
// @Tags journals
// @Router /api/v1/journals/{kind}/{id} [post]
func (h *RecordHandler) Record(ctx *fasthttp.RequestCtx) {
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

	var req transport.RecordRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.respondError(reqCtx, ctx, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message, err))
			return
		}
	}
	notify := h.notifyDefault
	if req.SendNotifications != nil {
		notify = *req.SendNotifications
	}

	entry, err := h.recorder.RecordFromState(reqCtx, ref, actorID, req.Notes, notify)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	if entry == nil {
		ctx.SetStatusCode(http.StatusNoContent)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, entry)
}

// @Summary Apply the retention policy after a journable was deleted
// @Tags journals
// @Router /api/v1/journals/{kind}/{id} [delete]
func (h *RecordHandler) Deleted(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ref, err := journableRef(ctx)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	removed, err := h.recorder.OnJournableDeleted(reqCtx, ref)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]int64{"deleted": removed})
}
