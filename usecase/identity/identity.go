// Package identity rewrites journal authorship when an actor is removed.
package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/metrics"
	"github.com/fastygo/journal/repository"
)

// Rewriter moves authorship of a deleted actor's journals to the tombstone
// identity. Recorded snapshots and details are never touched.
type Rewriter struct {
	journals  repository.JournalRepository
	tx        repository.Transactor
	tombstone int64
	logger    *zap.Logger
}

func NewRewriter(journals repository.JournalRepository, tx repository.Transactor, tombstone int64, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tombstone == 0 {
		tombstone = domain.DefaultTombstoneActorID
	}
	return &Rewriter{
		journals:  journals,
		tx:        tx,
		tombstone: tombstone,
		logger:    logger,
	}
}

// OnActorDeleted rewrites every journal authored by actorID. Running it again
// for the same actor rewrites nothing and is not an error.
func (r *Rewriter) OnActorDeleted(ctx context.Context, actorID int64) (int64, error) {
	if actorID == r.tombstone {
		return 0, nil
	}
	if actorID <= 0 {
		return 0, domain.WrapError(domain.ErrCodeInvalid, domain.ErrInvalidPayload.Message,
			fmt.Errorf("actor id %d", actorID))
	}

	var rewritten int64
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := r.journals.RewriteAuthor(ctx, actorID, r.tombstone)
		rewritten = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rewrite journals of actor %d: %w", actorID, err)
	}

	r.logger.Info("journal authorship rewritten",
		zap.Int64("actor_id", actorID),
		zap.Int64("tombstone_id", r.tombstone),
		zap.Int64("rewritten", rewritten))
	metrics.ActorRewrites.Add(float64(rewritten))
	return rewritten, nil
}

// HandleActorDeleted adapts the rewriter to actor-deleted events.
func (r *Rewriter) HandleActorDeleted(ctx context.Context, event domain.ActorDeleted) error {
	_, err := r.OnActorDeleted(ctx, event.ActorID)
	return err
}
