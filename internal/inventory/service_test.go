package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

func TestCheckAndReserveDecrementsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)
	ctx := context.Background()

	productA := uuid.New()
	productB := uuid.New()
	seedInventory(t, db, productA, nil, 5)
	seedInventory(t, db, productB, nil, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.CheckAndReserve(ctx, tx, []ReserveItem{
			{ProductID: productA, Quantity: 3},
			{ProductID: productB, Quantity: 1},
		})
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if got := loadQty(t, db, productA, nil); got != 2 {
		t.Fatalf("expected product A qty 2, got %d", got)
	}
	if got := loadQty(t, db, productB, nil); got != 0 {
		t.Fatalf("expected product B qty 0, got %d", got)
	}
}

func TestCheckAndReserveRollsBackWholeBatch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)
	ctx := context.Background()

	productA := uuid.New()
	productB := uuid.New()
	seedInventory(t, db, productA, nil, 5)
	seedInventory(t, db, productB, nil, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.CheckAndReserve(ctx, tx, []ReserveItem{
			{ProductID: productA, Quantity: 3},
			{ProductID: productB, Quantity: 2},
		})
	})
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", err)
	}

	// The earlier decrement of product A must have been rolled back.
	if got := loadQty(t, db, productA, nil); got != 5 {
		t.Fatalf("expected product A untouched at 5, got %d", got)
	}
	if got := loadQty(t, db, productB, nil); got != 1 {
		t.Fatalf("expected product B untouched at 1, got %d", got)
	}
}

func TestCheckAndReserveNoOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)
	ctx := context.Background()

	// Two checkouts race for 3 units, each wanting 2. The conditional
	// decrement admits exactly one; the loser sees the true shortfall.
	product := uuid.New()
	seedInventory(t, db, product, nil, 3)

	checkout := func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			return svc.CheckAndReserve(ctx, tx, []ReserveItem{
				{ProductID: product, Quantity: 2},
			})
		})
	}

	if err := checkout(); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	err := checkout()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock for second checkout, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", typed.Details())
	}
	if details["requested"] != 2 || details["available"] != 1 {
		t.Fatalf("unexpected shortfall details: %v", details)
	}

	// Reserved total stays within the seeded stock.
	if got := loadQty(t, db, product, nil); got != 1 {
		t.Fatalf("expected 1 unit left, got %d", got)
	}
}

func TestCheckAndReserveVariantScoped(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)
	ctx := context.Background()

	product := uuid.New()
	variant := uuid.New()
	seedInventory(t, db, product, nil, 4)
	seedInventory(t, db, product, &variant, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.CheckAndReserve(ctx, tx, []ReserveItem{
			{ProductID: product, VariantID: &variant, Quantity: 2},
		})
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if got := loadQty(t, db, product, &variant); got != 0 {
		t.Fatalf("expected variant qty 0, got %d", got)
	}
	if got := loadQty(t, db, product, nil); got != 4 {
		t.Fatalf("base product stock should be untouched, got %d", got)
	}
}

func TestCheckAndReserveMissingRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.CheckAndReserve(context.Background(), tx, []ReserveItem{
			{ProductID: uuid.New(), Quantity: 1},
		})
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCheckAndReserveInvalidQty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)

	product := uuid.New()
	seedInventory(t, db, product, nil, 5)

	err := svc.CheckAndReserve(context.Background(), db, []ReserveItem{{ProductID: product, Quantity: 0}})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t)
	ctx := context.Background()

	product := uuid.New()
	seedInventory(t, db, product, nil, 1)

	if err := svc.Release(ctx, db, product, nil, 3); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got := loadQty(t, db, product, nil); got != 4 {
		t.Fatalf("expected qty 4 after release, got %d", got)
	}

	err := svc.Release(ctx, db, uuid.New(), nil, 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	return db
}

func seedInventory(t *testing.T, db *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int) {
	t.Helper()
	item := models.InventoryItem{ID: uuid.New(), ProductID: productID, VariantID: variantID, AvailableQty: qty}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func loadQty(t *testing.T, db *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) int {
	t.Helper()
	var item models.InventoryItem
	q := db.Where("product_id = ?", productID)
	if variantID == nil {
		q = q.Where("variant_id IS NULL")
	} else {
		q = q.Where("variant_id = ?", *variantID)
	}
	if err := q.First(&item).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item.AvailableQty
}
