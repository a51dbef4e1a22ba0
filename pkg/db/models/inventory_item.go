package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks available stock per product or variant. Decrements go
// through a conditional UPDATE so concurrent checkouts never oversell.
type InventoryItem struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID    uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index:idx_inventory_product_variant,unique"`
	VariantID    *uuid.UUID `gorm:"column:variant_id;type:uuid;index:idx_inventory_product_variant,unique"`
	AvailableQty int        `gorm:"column:available_qty;not null;default:0"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
