package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

// ReserveItem is one stock decrement request.
type ReserveItem struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// Service guards the inventory table. Decrements are conditional UPDATEs so
// two concurrent checkouts can never both take the last unit.
type Service struct {
	logg *logger.Logger
}

// NewService builds the inventory service.
func NewService(logg *logger.Logger) (*Service, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{logg: logg}, nil
}

// CheckAndReserve decrements available stock for every item inside the
// caller's transaction. The first item that cannot be satisfied aborts the
// whole batch; the caller's rollback restores any earlier decrements.
func (s *Service) CheckAndReserve(ctx context.Context, tx *gorm.DB, items []ReserveItem) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no items to reserve")
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity must be positive for product %s", item.ProductID)).
				WithDetails(map[string]any{"product_id": item.ProductID, "quantity": item.Quantity})
		}

		res := scopeItem(tx.WithContext(ctx).Model(&models.InventoryItem{}), item.ProductID, item.VariantID).
			Where("available_qty >= ?", item.Quantity).
			UpdateColumn("available_qty", gorm.Expr("available_qty - ?", item.Quantity))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "reserving inventory")
		}
		if res.RowsAffected > 0 {
			continue
		}

		// Zero rows: either the row is missing or stock ran out. Look once
		// to tell the two apart.
		var current models.InventoryItem
		err := scopeItem(tx.WithContext(ctx), item.ProductID, item.VariantID).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("no inventory for product %s", item.ProductID)).
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading inventory row")
		}

		return pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("insufficient stock for product %s", item.ProductID)).
			WithDetails(map[string]any{
				"product_id": item.ProductID,
				"requested":  item.Quantity,
				"available":  current.AvailableQty,
			})
	}

	return nil
}

// Release returns quantity to a stock row. Used by compensation paths.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, quantity int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	res := scopeItem(tx.WithContext(ctx).Model(&models.InventoryItem{}), productID, variantID).
		UpdateColumn("available_qty", gorm.Expr("available_qty + ?", quantity))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "releasing inventory")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("no inventory for product %s", productID))
	}
	return nil
}

func scopeItem(q *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) *gorm.DB {
	q = q.Where("product_id = ?", productID)
	if variantID == nil {
		return q.Where("variant_id IS NULL")
	}
	return q.Where("variant_id = ?", *variantID)
}
