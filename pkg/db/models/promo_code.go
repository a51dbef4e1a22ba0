package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
)

// PromoCode is a discount rule. UsedCount is incremented with a conditional
// UPDATE so a usage-limited code can never be over-redeemed.
type PromoCode struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code             string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountType     enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	Value            int                `gorm:"column:value;not null"`
	MaxDiscountCents *int               `gorm:"column:max_discount_cents"`
	MinOrderCents    int                `gorm:"column:min_order_cents;not null;default:0"`
	UsageLimit       *int               `gorm:"column:usage_limit"`
	UsedCount        int                `gorm:"column:used_count;not null;default:0"`
	StartsAt         *time.Time         `gorm:"column:starts_at"`
	EndsAt           *time.Time         `gorm:"column:ends_at"`
	Active           bool               `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
