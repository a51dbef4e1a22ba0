package delivery

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

func TestResolveFee(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	fee, err := svc.ResolveFee(ctx, "Nairobi CBD", false)
	if err != nil {
		t.Fatalf("resolve standard fee: %v", err)
	}
	if fee != 15000 {
		t.Fatalf("expected standard fee 15000, got %d", fee)
	}

	fee, err = svc.ResolveFee(ctx, "Nairobi CBD", true)
	if err != nil {
		t.Fatalf("resolve express fee: %v", err)
	}
	if fee != 25000 {
		t.Fatalf("expected express fee 25000, got %d", fee)
	}
}

func TestResolveFeeExpressNotOffered(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	_, err := svc.ResolveFee(context.Background(), "Kisumu", true)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveFeeUnknownOrInactive(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolveFee(ctx, "Atlantis", false)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for unknown location, got %v", err)
	}

	_, err = svc.ResolveFee(ctx, "Old Town", false)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for inactive location, got %v", err)
	}
}

func TestResolveEstimate(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	estimate, err := svc.ResolveEstimate(context.Background(), "Kisumu")
	if err != nil {
		t.Fatalf("resolve estimate: %v", err)
	}
	if estimate.StandardFeeCents != 30000 || estimate.EstimatedDays != 3 {
		t.Fatalf("unexpected estimate %+v", estimate)
	}
	if estimate.ExpressAvailable || estimate.ExpressFeeCents != nil {
		t.Fatalf("Kisumu should not offer express: %+v", estimate)
	}
}

func TestListLocationsSkipsInactive(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)

	locations, err := svc.ListLocations(context.Background())
	if err != nil {
		t.Fatalf("list locations: %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("expected 2 active locations, got %d", len(locations))
	}
	for _, loc := range locations {
		if loc.Name == "Old Town" {
			t.Fatal("inactive location leaked into listing")
		}
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := "file:delivery_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.DeliveryLocation{}); err != nil {
		t.Fatalf("migrate locations: %v", err)
	}

	express := 10000
	seed := []models.DeliveryLocation{
		{ID: uuid.New(), Name: "Nairobi CBD", Tier: 1, BaseFeeCents: 15000, EstimatedDays: 1, ExpressAvailable: true, ExpressFeeCents: &express, Active: true},
		{ID: uuid.New(), Name: "Kisumu", Tier: 2, BaseFeeCents: 30000, EstimatedDays: 3, Active: true},
		{ID: uuid.New(), Name: "Old Town", Tier: 2, BaseFeeCents: 20000, EstimatedDays: 2, Active: false},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed location: %v", err)
		}
	}

	svc, err := NewService(NewRepository(db), logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
