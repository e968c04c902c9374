package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/internal/payment"
)

type capturingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	wrote    chan struct{}
}

func newCapturingWriter(err error) *capturingWriter {
	return &capturingWriter{err: err, wrote: make(chan struct{}, 1)}
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.messages = append(w.messages, msgs...)
	w.mu.Unlock()

	select {
	case w.wrote <- struct{}{}:
	default:
	}
	return w.err
}

func TestKafkaNotifier_PublishesWithPaymentKey(t *testing.T) {
	writer := newCapturingWriter(nil)
	notifier := NewKafkaNotifier(writer, slog.Default())

	paymentID := uuid.New()
	notifier.Publish(context.Background(), Event{
		Cause:     CauseWebhookCaptureSuccess,
		PaymentID: paymentID,
		OrderRef:  "order-1",
		Status:    payment.StatusCompleted,
		Timestamp: time.Now(),
	})

	select {
	case <-writer.wrote:
	case <-time.After(time.Second):
		t.Fatal("expected a message to be written")
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.messages, 1)
	assert.Equal(t, paymentID.String(), string(writer.messages[0].Key))
}

func TestKafkaNotifier_SwallowsWriteErrors(t *testing.T) {
	writer := newCapturingWriter(errors.New("broker unavailable"))
	notifier := NewKafkaNotifier(writer, slog.Default())

	// Publish must neither panic nor surface the writer error.
	notifier.Publish(context.Background(), Event{
		Cause:     CauseCaptureFailed,
		PaymentID: uuid.New(),
		OrderRef:  "order-1",
		Timestamp: time.Now(),
	})

	select {
	case <-writer.wrote:
	case <-time.After(time.Second):
		t.Fatal("expected a write attempt")
	}
}

func TestNopNotifier(t *testing.T) {
	assert.NotPanics(t, func() {
		NopNotifier{}.Publish(context.Background(), Event{Cause: CausePollingTimeout})
	})
}
