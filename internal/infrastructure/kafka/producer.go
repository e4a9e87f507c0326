package kafka

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fastygo/journal/internal/config"
)

// Producer publishes outbox events to a single topic.
type Producer struct {
	writer  *kafkago.Writer
	brokers []string
	dialer  *kafkago.Dialer
	logger  *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.JournalTopic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			WriteTimeout: timeout,
			Transport:    transport(cfg),
		},
		brokers: cfg.Brokers,
		dialer:  dialer(cfg),
		logger:  logger,
	}, nil
}

// Send writes one message. Messages for the same key land on the same
// partition so consumers see a journable's versions in order.
func (p *Producer) Send(ctx context.Context, key string, value []byte) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka producer not configured")
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("kafka producer not configured")
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := p.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return lastErr
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
