package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
)

// Payment tracks one mobile-money collection attempt for an order. The
// CheckoutRequestID is the gateway correlation id and is how callbacks find
// their way back to the row.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Method            enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountCents       int                 `gorm:"column:amount_cents;not null"`
	Phone             string              `gorm:"column:phone;not null"`
	CheckoutRequestID string              `gorm:"column:checkout_request_id;not null;uniqueIndex"`
	MerchantRequestID *string             `gorm:"column:merchant_request_id"`
	MpesaReceipt      *string             `gorm:"column:mpesa_receipt"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	Retries           []PaymentRetry      `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
