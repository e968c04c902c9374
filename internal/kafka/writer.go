package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"

	"settlement-service/internal/config"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 100
)

func NewWriter(cfg config.Kafka) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchTimeout := cfg.Writer.BatchTimeoutMs
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Broker.URL),
		Topic:                  cfg.Topic.PaymentEvents,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}
