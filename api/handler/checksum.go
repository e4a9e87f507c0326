package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/journal/api/transport"
	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/pkg/httpcontext"
)

var errMissingIDs = errors.New("ids query parameter is required")

// ChecksumSource computes bulk checksums for one kind.
type ChecksumSource interface {
	ChecksumFor(ctx context.Context, kind string, ids []int64) (map[int64]string, error)
}

type ChecksumHandler struct {
	baseHandler
	checksums ChecksumSource
}

func NewChecksumHandler(checksums ChecksumSource, adapter *httpcontext.Adapter, logger *zap.Logger) *ChecksumHandler {
	return &ChecksumHandler{
		baseHandler: newBaseHandler(adapter, logger),
		checksums:   checksums,
	}
}

// @Summary Bulk checksums
// @Tags checksums
// @Router /api/v1/checksums/{kind} [get]
func (h *ChecksumHandler) Get(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	kind, _ := ctx.UserValue("kind").(string)
	ids, err := parseIDs(string(ctx.QueryArgs().Peek("ids")))
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}

	sums, err := h.checksums.ChecksumFor(reqCtx, kind, ids)
	if err != nil {
		h.respondError(reqCtx, ctx, err)
		return
	}

	out := make(map[string]string, len(sums))
	for id, sum := range sums {
		out[strconv.FormatInt(id, 10)] = sum
	}
	h.respondSuccess(ctx, http.StatusOK, transport.Checksums{Kind: kind, Checksums: out})
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message, errMissingIDs)
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
