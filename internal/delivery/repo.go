package delivery

import (
	"context"

	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
)

// Repository defines persistence operations for delivery locations.
type Repository interface {
	FindByName(ctx context.Context, name string) (*models.DeliveryLocation, error)
	ListActive(ctx context.Context) ([]models.DeliveryLocation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a delivery location repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.DeliveryLocation, error) {
	var location models.DeliveryLocation
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.DeliveryLocation, error) {
	var locations []models.DeliveryLocation
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("tier ASC, name ASC").
		Find(&locations).Error
	if err != nil {
		return nil, err
	}
	return locations, nil
}
