package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/internal/config"
)

// ActorDeletedHandler reacts to actor removal events.
type ActorDeletedHandler interface {
	HandleActorDeleted(ctx context.Context, event domain.ActorDeleted) error
}

const (
	minRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer listens for actor deletions and hands them to the handler.
// A message is retried until the handler succeeds and only then committed;
// later messages are not fetched meanwhile.
type Consumer struct {
	reader  messageReader
	topic   string
	handler ActorDeletedHandler
	logger  *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(cfg config.KafkaConfig, handler ActorDeletedHandler, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if handler == nil {
		return nil, errors.New("kafka: actor deleted handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.ActorDeletedTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   dialer(cfg),
	})
	return &Consumer{
		reader:     reader,
		topic:      cfg.ActorDeletedTopic,
		handler:    handler,
		logger:     logger,
		minBackoff: minRetryBackoff,
		maxBackoff: maxRetryBackoff,
	}, nil
}

// Start runs the listen loop in the background until Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.listen(ctx)
	}()
	c.logger.Info("actor deletion consumer started", zap.String("topic", c.topic))
}

func (c *Consumer) listen(ctx context.Context) {
	backoff := c.minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka fetch failed", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = c.next(backoff)
			continue
		}
		backoff = c.minBackoff

		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// process retries msg until it is handled. It returns false when ctx ends first.
func (c *Consumer) process(ctx context.Context, msg kafkago.Message) bool {
	backoff := c.minBackoff
	for {
		err := c.handle(ctx, msg.Value)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("actor deletion handling failed, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = c.next(backoff)
	}
}

func (c *Consumer) next(d time.Duration) time.Duration {
	d *= 2
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	var event domain.ActorDeleted
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Warn("discarding malformed actor deletion event", zap.Error(err))
		return nil
	}
	return c.handler.HandleActorDeleted(ctx, event)
}

// Stop cancels the listen loop and closes the reader.
func (c *Consumer) Stop() error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}
