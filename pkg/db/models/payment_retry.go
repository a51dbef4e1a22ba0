package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRetry records one re-initiation of a failed payment. The row count
// per payment enforces the retry cap.
type PaymentRetry struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID         uuid.UUID `gorm:"column:payment_id;type:uuid;not null;index"`
	Attempt           int       `gorm:"column:attempt;not null"`
	CheckoutRequestID *string   `gorm:"column:checkout_request_id"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
