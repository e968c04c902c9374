package db

import (
	"time"

	"github.com/google/uuid"

	"settlement-service/internal/payment"
)

// PaymentEntity is the durable record of one settlement attempt. The order
// reference is assigned by this system, sent to the provider and used as the
// join key for callbacks and webhooks; it is unique and immutable.
type PaymentEntity struct {
	ID            uuid.UUID
	OrderRef      string
	Status        payment.Status
	Amount        int
	UserID        uuid.UUID
	ListingID     uuid.UUID
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
}
