package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/types"
)

// Order is the checkout aggregate root. Item, history, payment and tracking
// rows reference it one-directionally; the order row itself carries only
// snapshots taken at placement time.
type Order struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber      string                 `gorm:"column:order_number;not null;uniqueIndex"`
	UserID           *uuid.UUID             `gorm:"column:user_id;type:uuid;index"`
	GuestName        *string                `gorm:"column:guest_name"`
	GuestEmail       *string                `gorm:"column:guest_email"`
	GuestPhone       *string                `gorm:"column:guest_phone"`
	SubtotalCents    int                    `gorm:"column:subtotal_cents;not null"`
	DeliveryFeeCents int                    `gorm:"column:delivery_fee_cents;not null;default:0"`
	DiscountCents    int                    `gorm:"column:discount_cents;not null;default:0"`
	TotalCents       int                    `gorm:"column:total_cents;not null"`
	PaymentMethod    enums.PaymentMethod    `gorm:"column:payment_method;type:text;not null"`
	PaymentStatus    enums.PaymentStatus    `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	Status           enums.OrderStatus      `gorm:"column:status;type:text;not null;default:'pending'"`
	DeliveryLocation string                 `gorm:"column:delivery_location;not null"`
	ExpressDelivery  bool                   `gorm:"column:express_delivery;not null;default:false"`
	ShippingAddress  *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PromoCode        *string                `gorm:"column:promo_code"`
	Items            []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	StatusHistory    []OrderStatusEntry     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments         []Payment              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Tracking         *DeliveryTracking      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// IsGuest reports whether the order was placed without an account.
func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// Contact assembles the notification target from the order snapshot.
func (o *Order) Contact() types.Contact {
	contact := types.Contact{}
	if o.GuestName != nil {
		contact.FullName = *o.GuestName
	}
	if o.GuestPhone != nil {
		contact.Phone = *o.GuestPhone
	}
	if o.GuestEmail != nil {
		contact.Email = *o.GuestEmail
	}
	return contact
}
