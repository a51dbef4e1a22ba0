package tracking

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
)

// Repository defines persistence operations for delivery tracking. Order
// status updates driven by courier events live here too so both sides commit
// in one transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.DeliveryTracking, error)
	UpdateTracking(ctx context.Context, trackingID uuid.UUID, updates map[string]any) error
	CreateUpdate(ctx context.Context, update *models.DeliveryUpdate) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	CreateOrderStatusEntry(ctx context.Context, entry *models.OrderStatusEntry) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a tracking repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error) {
	var tracking models.DeliveryTracking
	err := r.db.WithContext(ctx).
		Preload("Updates", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("order_id = ?", orderID).
		First(&tracking).Error
	if err != nil {
		return nil, err
	}
	return &tracking, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.DeliveryTracking, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Select("id").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return r.FindByOrder(ctx, order.ID)
}

func (r *repository) UpdateTracking(ctx context.Context, trackingID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryTracking{}).
		Where("id = ?", trackingID).
		Updates(updates).Error
}

func (r *repository) CreateUpdate(ctx context.Context, update *models.DeliveryUpdate) error {
	return r.db.WithContext(ctx).Create(update).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) CreateOrderStatusEntry(ctx context.Context, entry *models.OrderStatusEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
