package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`broadcast_publish_total{result="success"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`broadcast_publish_total{result="error"}`)
)

// Notifier publishes payment state changes to interested subscribers.
// Publishing is best-effort: implementations never return an error and never
// block the caller's critical path. Settlement correctness must not depend
// on a broadcast being received.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaNotifier struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaNotifier(writer messageWriter, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, logger: logger}
}

func (n *KafkaNotifier) Publish(ctx context.Context, event Event) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		n.logger.ErrorContext(ctx, "Error marshalling broadcast event", "error", err)
		publishErrorCounter.Inc()
		return
	}

	msg := kafka.Message{
		// Payment ID as key keeps events for one payment ordered.
		Key:   []byte(event.PaymentID.String()),
		Value: eventBytes,
	}

	go func() {
		if err := n.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
			n.logger.ErrorContext(ctx, "Error publishing broadcast event", "error", err, "cause", event.Cause)
			publishErrorCounter.Inc()
			return
		}
		publishSuccessCounter.Inc()
	}()
}

// NopNotifier discards every event. Used when broadcasting is disabled and
// in tests that assert the "never fails the caller" contract.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) {}
