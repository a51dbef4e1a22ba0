package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestStockConflictJobCancelsStaleOrders(t *testing.T) {
	t.Parallel()

	db := newConflictTestDB(t)
	store := NewOrderStore(db)

	stale := seedConflictOrder(t, db, enums.OrderStatusStockConflict)
	fresh := seedConflictOrder(t, db, enums.OrderStatusStockConflict)
	confirmed := seedConflictOrder(t, db, enums.OrderStatusConfirmed)

	// Backdate only the stale order past the sweep window.
	old := time.Now().UTC().Add(-2 * stockConflictMaxAge)
	if err := db.Model(&models.Order{}).Where("id = ?", stale.ID).
		UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("backdate order: %v", err)
	}

	job, err := NewStockConflictJob(StockConflictJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:     gormTxRunner{db: db},
		Store:  store,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	assertOrderStatus(t, db, stale.ID, enums.OrderStatusCancelled)
	assertOrderStatus(t, db, fresh.ID, enums.OrderStatusStockConflict)
	assertOrderStatus(t, db, confirmed.ID, enums.OrderStatusConfirmed)

	var history int64
	if err := db.Model(&models.OrderStatusEntry{}).Where("order_id = ?", stale.ID).Count(&history).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if history != 1 {
		t.Fatalf("expected one history entry for cancelled order, got %d", history)
	}
}

func TestCancelOrderSkipsMovedOrders(t *testing.T) {
	t.Parallel()

	db := newConflictTestDB(t)
	store := NewOrderStore(db)

	order := seedConflictOrder(t, db, enums.OrderStatusConfirmed)
	if err := store.CancelOrder(context.Background(), nil, order.ID, "note"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertOrderStatus(t, db, order.ID, enums.OrderStatusConfirmed)

	var history int64
	if err := db.Model(&models.OrderStatusEntry{}).Where("order_id = ?", order.ID).Count(&history).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if history != 0 {
		t.Fatalf("expected no history entry, got %d", history)
	}
}

func newConflictTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cron_conflict_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.OrderStatusEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedConflictOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus) *models.Order {
	t.Helper()
	phone := "+254712345678"
	order := models.Order{
		ID:               uuid.New(),
		OrderNumber:      "ORD-20260828-" + uuid.NewString()[:6],
		GuestPhone:       &phone,
		SubtotalCents:    10000,
		TotalCents:       10000,
		PaymentMethod:    enums.PaymentMethodMobileMoney,
		PaymentStatus:    enums.PaymentStatusPending,
		Status:           status,
		DeliveryLocation: "Nairobi CBD",
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func assertOrderStatus(t *testing.T, db *gorm.DB, orderID uuid.UUID, want enums.OrderStatus) {
	t.Helper()
	var order models.Order
	if err := db.First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != want {
		t.Fatalf("expected status %s, got %s", want, order.Status)
	}
}
