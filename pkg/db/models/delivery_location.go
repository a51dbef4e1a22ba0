package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryLocation is a named, tiered delivery zone with its fee schedule.
type DeliveryLocation struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name             string    `gorm:"column:name;not null;uniqueIndex"`
	Tier             int       `gorm:"column:tier;not null;default:1"`
	BaseFeeCents     int       `gorm:"column:base_fee_cents;not null"`
	EstimatedDays    int       `gorm:"column:estimated_days;not null;default:1"`
	ExpressAvailable bool      `gorm:"column:express_available;not null;default:false"`
	ExpressFeeCents  *int      `gorm:"column:express_fee_cents"`
	Active           bool      `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
