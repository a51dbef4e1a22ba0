package delivery

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

// Estimate is the public fee/ETA answer for one location.
type Estimate struct {
	Location         string `json:"location"`
	StandardFeeCents int    `json:"standard_fee_cents"`
	EstimatedDays    int    `json:"estimated_days"`
	ExpressAvailable bool   `json:"express_available"`
	ExpressFeeCents  *int   `json:"express_fee_cents,omitempty"`
}

// Service resolves delivery fees by location name. The resolved fee is
// snapshotted onto the order; later fee changes never touch placed orders.
type Service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds the delivery pricing service.
func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// ResolveFee returns the delivery fee in cents for the named location.
func (s *Service) ResolveFee(ctx context.Context, locationName string, express bool) (int, error) {
	location, err := s.activeLocation(ctx, locationName)
	if err != nil {
		return 0, err
	}

	if !express {
		return location.BaseFeeCents, nil
	}
	if !location.ExpressAvailable || location.ExpressFeeCents == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("express delivery is not offered in %s", location.Name))
	}
	return location.BaseFeeCents + *location.ExpressFeeCents, nil
}

// ResolveEstimate returns the full fee/ETA breakdown for the named location.
func (s *Service) ResolveEstimate(ctx context.Context, locationName string) (*Estimate, error) {
	location, err := s.activeLocation(ctx, locationName)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Location:         location.Name,
		StandardFeeCents: location.BaseFeeCents,
		EstimatedDays:    location.EstimatedDays,
		ExpressAvailable: location.ExpressAvailable,
		ExpressFeeCents:  location.ExpressFeeCents,
	}, nil
}

// ListLocations returns every active location ordered by tier.
func (s *Service) ListLocations(ctx context.Context) ([]models.DeliveryLocation, error) {
	locations, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing delivery locations")
	}
	return locations, nil
}

func (s *Service) activeLocation(ctx context.Context, name string) (*models.DeliveryLocation, error) {
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery location is required")
	}

	location, err := s.repo.FindByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("unknown delivery location %q", name))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading delivery location")
	}
	if !location.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound,
			fmt.Sprintf("delivery location %q is not available", name))
	}
	return location, nil
}
