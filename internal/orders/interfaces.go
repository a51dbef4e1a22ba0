package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/delivery"
	"github.com/sokohub/sokohub-backend/internal/inventory"
	"github.com/sokohub/sokohub-backend/internal/promos"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/pagination"
)

// Repository defines persistence operations for order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	CreateStatusEntry(ctx context.Context, entry *models.OrderStatusEntry) error
	CreateTracking(ctx context.Context, tracking *models.DeliveryTracking) (*models.DeliveryTracking, error)
	CreateTrackingUpdate(ctx context.Context, update *models.DeliveryUpdate) error
	CreateReturnRequest(ctx context.Context, request *models.ReturnRequest) (*models.ReturnRequest, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	FindVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error)
	ClearCartItems(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error
}

// txRunner runs a closure inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// feeResolver prices delivery for a named location.
type feeResolver interface {
	ResolveFee(ctx context.Context, locationName string, express bool) (int, error)
}

// promoEngine validates and redeems promo codes.
type promoEngine interface {
	Validate(ctx context.Context, code string, subtotalCents int) (*promos.Discount, error)
	Redeem(ctx context.Context, tx *gorm.DB, code string) error
}

// stockReserver decrements inventory inside the caller's transaction.
type stockReserver interface {
	CheckAndReserve(ctx context.Context, tx *gorm.DB, items []inventory.ReserveItem) error
}

// paymentInitiator starts a mobile-money collection for a placed order.
type paymentInitiator interface {
	InitiatePush(ctx context.Context, orderID uuid.UUID, phone string, amountCents int) (*models.Payment, error)
}

// statusGuard is the allowed order status transition map.
var statusGuard = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:        {enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusCancelled, enums.OrderStatusStockConflict},
	enums.OrderStatusConfirmed:      {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing:     {enums.OrderStatusOutForDelivery, enums.OrderStatusCancelled},
	enums.OrderStatusOutForDelivery: {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered:      {enums.OrderStatusReturned},
	enums.OrderStatusStockConflict:  {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
}

func transitionAllowed(from, to enums.OrderStatus) bool {
	for _, candidate := range statusGuard[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

var _ feeResolver = (*delivery.Service)(nil)
var _ promoEngine = (*promos.Service)(nil)
var _ stockReserver = (*inventory.Service)(nil)
