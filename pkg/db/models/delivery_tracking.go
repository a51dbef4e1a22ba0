package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
)

// DeliveryTracking is the current courier-side snapshot for an order.
// Created at order placement; the Updates slice is the append-only trail.
type DeliveryTracking struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status          enums.DeliveryStatus `gorm:"column:status;type:text;not null;default:'order_placed'"`
	CurrentLocation *string              `gorm:"column:current_location"`
	Notes           *string              `gorm:"column:notes"`
	DeliveredAt     *time.Time           `gorm:"column:delivered_at"`
	ProofOfDelivery *string              `gorm:"column:proof_of_delivery"`
	Updates         []DeliveryUpdate     `gorm:"foreignKey:TrackingID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
