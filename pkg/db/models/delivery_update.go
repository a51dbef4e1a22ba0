package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
)

// DeliveryUpdate is one append-only entry in the tracking trail.
type DeliveryUpdate struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TrackingID uuid.UUID            `gorm:"column:tracking_id;type:uuid;not null;index"`
	Status     enums.DeliveryStatus `gorm:"column:status;type:text;not null"`
	Location   *string              `gorm:"column:location"`
	Notes      *string              `gorm:"column:notes"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}
