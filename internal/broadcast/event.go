package broadcast

import (
	"time"

	"github.com/google/uuid"

	"settlement-service/internal/payment"
)

// Cause tags why a payment event was published.
const (
	CauseCallbackCaptureSuccess = "callback_capture_success"
	CauseWebhookCaptureSuccess  = "webhook_capture_success"
	CausePollingCaptureSuccess  = "polling_capture_success"
	CauseCaptureFailed          = "capture_failed"
	CausePaymentCancelled       = "payment_cancelled"
	CausePaymentExpired         = "payment_expired"
	CausePollingTimeout         = "polling_timeout"
)

type Event struct {
	Cause         string         `json:"cause"`
	PaymentID     uuid.UUID      `json:"paymentId"`
	OrderRef      string         `json:"orderRef"`
	Status        payment.Status `json:"status"`
	Amount        int            `json:"amount"`
	UserID        uuid.UUID      `json:"userId"`
	ListingID     uuid.UUID      `json:"listingId"`
	FailureReason *string        `json:"failureReason,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}
