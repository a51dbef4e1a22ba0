package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
)

// OrderStatusEntry is one append-only row in the order's status history.
type OrderStatusEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Note      *string           `gorm:"column:note"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}
