package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/journal/internal/infrastructure/buffer"
	"github.com/fastygo/journal/internal/metrics"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// Sender delivers an outbox item to the broker.
type Sender interface {
	Send(ctx context.Context, key string, value []byte) error
}

// ProcessorConfig controls how frequently the outbox is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
}

// OutboxProcessor delivers pending journal notifications once the broker is reachable.
type OutboxProcessor struct {
	store   *buffer.Store
	monitor ConnectionHealth
	sender  Sender
	logger  *zap.Logger
	cron    *cron.Cron
	cfg     ProcessorConfig
}

func NewOutboxProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	sender Sender,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *OutboxProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	op := &OutboxProcessor{
		store:   store,
		monitor: monitor,
		sender:  sender,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", max(int(cfg.Interval.Seconds()), 1))
	_, _ = op.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := op.Drain(ctx); err != nil {
			op.logger.Error("outbox drain failed", zap.Error(err))
		}
	})
	if cfg.Retention > 0 {
		_, _ = op.cron.AddFunc("@every 1h", op.cleanup)
	}

	return op
}

// Start launches the cron scheduler.
func (op *OutboxProcessor) Start() {
	if op == nil || op.cron == nil {
		return
	}
	op.cron.Start()
	op.logger.Info("outbox processor started")
}

// Stop gracefully stops the scheduler.
func (op *OutboxProcessor) Stop(ctx context.Context) {
	if op == nil || op.cron == nil {
		return
	}
	stopCtx := op.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	op.logger.Info("outbox processor stopped")
}

// Drain delivers pending items synchronously.
func (op *OutboxProcessor) Drain(ctx context.Context) error {
	if op == nil || op.store == nil {
		return nil
	}
	if op.monitor != nil && !op.monitor.IsOnline() {
		op.logger.Debug("skipping outbox drain (broker offline)")
		return nil
	}

	items, err := op.store.GetBatch(op.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := op.deliver(ctx, item); err != nil {
			op.logger.Error("failed to deliver outbox item",
				zap.String("item_id", item.ID),
				zap.String("event", item.Event),
				zap.String("key", item.Key),
				zap.Error(err))

			item.Retries++
			if item.Retries >= op.cfg.MaxRetries {
				op.logger.Warn("dropping outbox item (max retries reached)", zap.String("item_id", item.ID))
				metrics.OutboxDeliveries.WithLabelValues("dropped").Inc()
				_ = op.store.Remove(item)
				continue
			}
			metrics.OutboxDeliveries.WithLabelValues("retried").Inc()

			if err := op.store.Remove(item); err != nil {
				op.logger.Warn("failed to remove outbox item", zap.Error(err))
			}
			if err := op.store.Requeue(item); err != nil {
				op.logger.Error("failed to requeue outbox item", zap.Error(err))
			}
			continue
		}

		metrics.OutboxDeliveries.WithLabelValues("sent").Inc()
		if err := op.store.Remove(item); err != nil {
			op.logger.Warn("failed to purge delivered outbox item", zap.Error(err))
		}
	}
	return nil
}

// Dispatch attempts to deliver the item immediately and falls back to persisting it.
func (op *OutboxProcessor) Dispatch(ctx context.Context, item buffer.Item) error {
	if op == nil || op.store == nil {
		return fmt.Errorf("outbox processor not configured")
	}

	if op.monitor == nil || op.monitor.IsOnline() {
		if err := op.deliver(ctx, item); err == nil {
			metrics.OutboxDeliveries.WithLabelValues("sent").Inc()
			return nil
		} else {
			op.logger.Warn("immediate delivery failed, queueing", zap.Error(err))
		}
	}
	metrics.OutboxDeliveries.WithLabelValues("queued").Inc()
	return op.store.Enqueue(item)
}

// Size returns the number of pending items.
func (op *OutboxProcessor) Size() int {
	if op == nil || op.store == nil {
		return 0
	}
	size, err := op.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (op *OutboxProcessor) deliver(ctx context.Context, item buffer.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if op.sender == nil {
		return fmt.Errorf("no sender configured")
	}
	switch item.Event {
	case buffer.EventJournalCreated:
		return op.sender.Send(ctx, item.Key, item.Data)
	default:
		return fmt.Errorf("unsupported event %s", item.Event)
	}
}

func (op *OutboxProcessor) cleanup() {
	dropped, err := op.store.Cleanup(time.Now().Add(-op.cfg.Retention))
	if err != nil {
		op.logger.Warn("outbox cleanup failed", zap.Error(err))
		return
	}
	if dropped > 0 {
		op.logger.Warn("expired outbox items dropped", zap.Int("count", dropped))
	}
}
