package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/notifications"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

// txRunner runs a closure inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// UpdateInput carries a courier-side status move.
type UpdateInput struct {
	Status   enums.DeliveryStatus
	Location *string
	Notes    *string
}

// deliveryGuard is the allowed courier status transition map. A failed
// delivery can be re-attempted by dispatching again.
var deliveryGuard = map[enums.DeliveryStatus][]enums.DeliveryStatus{
	enums.DeliveryStatusOrderPlaced:    {enums.DeliveryStatusOutForDelivery},
	enums.DeliveryStatusOutForDelivery: {enums.DeliveryStatusDelivered, enums.DeliveryStatusDeliveryFailed},
	enums.DeliveryStatusDeliveryFailed: {enums.DeliveryStatusOutForDelivery},
}

func deliveryTransitionAllowed(from, to enums.DeliveryStatus) bool {
	for _, candidate := range deliveryGuard[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// orderStatusFor maps courier moves onto the order lifecycle. Failed
// deliveries leave the order where it is.
func orderStatusFor(status enums.DeliveryStatus) (enums.OrderStatus, bool) {
	switch status {
	case enums.DeliveryStatusOutForDelivery:
		return enums.OrderStatusOutForDelivery, true
	case enums.DeliveryStatusDelivered:
		return enums.OrderStatusDelivered, true
	default:
		return "", false
	}
}

// Service maintains the courier-side trail for orders.
type Service struct {
	repo     Repository
	tx       txRunner
	notifier notifications.Notifier
	logg     *logger.Logger
}

// NewService wires the tracking service.
func NewService(repo Repository, tx txRunner, notifier notifications.Notifier, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: repo, tx: tx, notifier: notifier, logg: logg}, nil
}

// GetTracking returns the tracking snapshot for an order, updates most
// recent first.
func (s *Service) GetTracking(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error) {
	tracking, err := s.repo.FindByOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tracking not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading tracking")
	}
	return tracking, nil
}

// GetTrackingByOrderNumber resolves tracking through the public order
// number. Used by the unauthenticated lookup endpoint.
func (s *Service) GetTrackingByOrderNumber(ctx context.Context, orderNumber string) (*models.DeliveryTracking, error) {
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	tracking, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tracking not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading tracking")
	}
	return tracking, nil
}

// UpdateStatus applies one courier move, appends the trail entry and keeps
// the order lifecycle in step.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, input UpdateInput) (*models.DeliveryTracking, error) {
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid delivery status %q", input.Status))
	}

	var updated *models.DeliveryTracking
	var order *models.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		tracking, err := repo.FindByOrder(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "tracking not found")
		}
		if err != nil {
			return err
		}

		if tracking.Status == input.Status {
			updated = tracking
			return nil
		}
		if !deliveryTransitionAllowed(tracking.Status, input.Status) {
			return pkgerrors.New(
				pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move delivery from %s to %s", tracking.Status, input.Status),
			).WithDetails(map[string]any{
				"current":   tracking.Status,
				"requested": input.Status,
			})
		}

		trackingUpdates := map[string]any{"status": input.Status}
		if input.Location != nil {
			trackingUpdates["current_location"] = *input.Location
		}
		if input.Notes != nil {
			trackingUpdates["notes"] = *input.Notes
		}
		if input.Status == enums.DeliveryStatusDelivered {
			trackingUpdates["delivered_at"] = time.Now().UTC()
		}
		if err := repo.UpdateTracking(ctx, tracking.ID, trackingUpdates); err != nil {
			return err
		}

		if err := repo.CreateUpdate(ctx, &models.DeliveryUpdate{
			ID:         uuid.New(),
			TrackingID: tracking.ID,
			Status:     input.Status,
			Location:   input.Location,
			Notes:      input.Notes,
		}); err != nil {
			return err
		}

		if orderStatus, ok := orderStatusFor(input.Status); ok {
			if err := repo.UpdateOrder(ctx, orderID, map[string]any{"status": orderStatus}); err != nil {
				return err
			}
			note := fmt.Sprintf("Delivery moved to %s", input.Status)
			if err := repo.CreateOrderStatusEntry(ctx, &models.OrderStatusEntry{
				ID:      uuid.New(),
				OrderID: orderID,
				Status:  orderStatus,
				Note:    &note,
			}); err != nil {
				return err
			}
		}

		refreshed, err := repo.FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		loaded, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		updated = refreshed
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if order != nil {
		s.notifyAsync(*order, input.Status)
	}
	return updated, nil
}

// ConfirmDelivery is the distinguished delivered transition: it stamps
// delivered_at and attaches proof when supplied. Confirming an order a
// courier already marked delivered still appends the confirmation entry
// and stores the proof; only a replay with proof already on file is a
// no-op.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID uuid.UUID, proof string) (*models.DeliveryTracking, error) {
	var updated *models.DeliveryTracking
	var order *models.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		tracking, err := repo.FindByOrder(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "tracking not found")
		}
		if err != nil {
			return err
		}

		alreadyDelivered := tracking.Status == enums.DeliveryStatusDelivered
		if alreadyDelivered && tracking.ProofOfDelivery != nil {
			updated = tracking
			return nil
		}
		if !alreadyDelivered && !deliveryTransitionAllowed(tracking.Status, enums.DeliveryStatusDelivered) {
			return pkgerrors.New(
				pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot confirm delivery from %s", tracking.Status),
			)
		}

		trackingUpdates := map[string]any{"status": enums.DeliveryStatusDelivered}
		if tracking.DeliveredAt == nil {
			trackingUpdates["delivered_at"] = time.Now().UTC()
		}
		if proof != "" {
			trackingUpdates["proof_of_delivery"] = proof
		}
		if err := repo.UpdateTracking(ctx, tracking.ID, trackingUpdates); err != nil {
			return err
		}
		note := "Delivery confirmed"
		if err := repo.CreateUpdate(ctx, &models.DeliveryUpdate{
			ID:         uuid.New(),
			TrackingID: tracking.ID,
			Status:     enums.DeliveryStatusDelivered,
			Notes:      &note,
		}); err != nil {
			return err
		}
		if !alreadyDelivered {
			if err := repo.UpdateOrder(ctx, orderID, map[string]any{"status": enums.OrderStatusDelivered}); err != nil {
				return err
			}
			if err := repo.CreateOrderStatusEntry(ctx, &models.OrderStatusEntry{
				ID:      uuid.New(),
				OrderID: orderID,
				Status:  enums.OrderStatusDelivered,
				Note:    &note,
			}); err != nil {
				return err
			}
		}

		refreshed, err := repo.FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		updated = refreshed
		if !alreadyDelivered {
			loaded, err := repo.FindOrder(ctx, orderID)
			if err != nil {
				return err
			}
			order = loaded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if order != nil {
		s.notifyAsync(*order, enums.DeliveryStatusDelivered)
	}
	return updated, nil
}

func (s *Service) notifyAsync(order models.Order, status enums.DeliveryStatus) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifyDeliveryUpdate(ctx, order.Contact(), order.OrderNumber, status); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("delivery notification failed: %v", err))
		}
	}()
}
