package orders

import (
	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/types"
)

// OrderItemInput is one requested line at checkout.
type OrderItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// CreateOrderInput carries everything needed to place an order. UserID is
// nil for guest checkout; the contact triple is then required.
type CreateOrderInput struct {
	UserID           *uuid.UUID
	Contact          types.Contact
	ShippingAddress  types.ShippingAddress
	DeliveryLocation string
	ExpressDelivery  bool
	PaymentMethod    enums.PaymentMethod
	PromoCode        string
	Items            []OrderItemInput
}

// CheckoutResult is what checkout returns: the order plus, for mobile-money
// orders, the pending payment attempt.
type CheckoutResult struct {
	Order   *models.Order
	Payment *models.Payment
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
}

// OrderList is one page of orders plus the cursor for the next page.
type OrderList struct {
	Orders     []models.Order
	NextCursor string
}
