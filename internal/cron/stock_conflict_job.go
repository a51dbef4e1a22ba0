package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

const (
	// Orders that sat in stock_conflict this long without operator action
	// are cancelled so the customer is not left hanging.
	stockConflictMaxAge = 24 * time.Hour

	stockConflictBatchSize = 50
)

// txRunner runs a closure inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// conflictOrderStore is the persistence surface for the stock conflict sweep.
type conflictOrderStore interface {
	FindStockConflictOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CancelOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, note string) error
}

// StockConflictJobParams configure the stale conflict sweep.
type StockConflictJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Store  conflictOrderStore
}

// NewStockConflictJob builds the cron job that cancels orders stuck in
// stock_conflict.
func NewStockConflictJob(params StockConflictJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("order store required")
	}
	return &stockConflictJob{
		logg:  params.Logger,
		db:    params.DB,
		store: params.Store,
		now:   time.Now,
	}, nil
}

type stockConflictJob struct {
	logg  *logger.Logger
	db    txRunner
	store conflictOrderStore
	now   func() time.Time
}

func (j *stockConflictJob) Name() JobName { return JobStockConflict }

func (j *stockConflictJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-stockConflictMaxAge)
	stale, err := j.store.FindStockConflictOrdersBefore(ctx, cutoff, stockConflictBatchSize)
	if err != nil {
		return fmt.Errorf("query stock conflict orders: %w", err)
	}

	var errs []error
	cancelled := 0
	for _, order := range stale {
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.store.CancelOrder(ctx, tx, order.ID, "Cancelled automatically: stock conflict unresolved")
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel order %s: %w", order.OrderNumber, err))
			continue
		}
		cancelled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":     len(stale),
		"cancelled": cancelled,
	})
	j.logg.Info(logCtx, "stock conflict sweep complete")
	return multierr.Combine(errs...)
}

// OrderStore is the gorm-backed conflictOrderStore.
type OrderStore struct {
	db *gorm.DB
}

// NewOrderStore builds the sweep's order store.
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// FindStockConflictOrdersBefore lists stock_conflict orders untouched since
// the cutoff.
func (s *OrderStore) FindStockConflictOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusStockConflict, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CancelOrder moves a stock_conflict order to cancelled with a history note.
// Orders some other process already moved on are left alone.
func (s *OrderStore) CancelOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, note string) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	result := db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusStockConflict).
		Update("status", enums.OrderStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&models.OrderStatusEntry{
		ID:      uuid.New(),
		OrderID: orderID,
		Status:  enums.OrderStatusCancelled,
		Note:    &note,
	}).Error
}
