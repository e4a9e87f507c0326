package kafka

import (
	"crypto/tls"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/fastygo/journal/internal/config"
)

func transport(cfg config.KafkaConfig) *kafkago.Transport {
	t := &kafkago.Transport{DialTimeout: 10 * time.Second}
	if cfg.Username != "" {
		t.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		t.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return t
}

func dialer(cfg config.KafkaConfig) *kafkago.Dialer {
	d := &kafkago.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.Username != "" {
		d.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		d.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return d
}
