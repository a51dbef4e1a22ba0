package payments

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
	"github.com/sokohub/sokohub-backend/pkg/metrics"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
)

// gateway is the narrow surface this service needs from the mobile-money
// client.
type gateway interface {
	STKPush(ctx context.Context, input mpesa.STKPushInput) (*mpesa.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.StatusResponse, error)
}

// txRunner runs a closure inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives mobile-money collection: push initiation, callback
// settlement and status polling.
type Service struct {
	repo     Repository
	tx       txRunner
	gateway  gateway
	notifier notifications.Notifier
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger

	// scheduleRetry is installed by the retry scheduler after construction
	// to defer an automatic re-attempt for a failed payment.
	scheduleRetry func(paymentID uuid.UUID)
}

// NewService wires the payment orchestrator.
func NewService(
	repo Repository,
	tx txRunner,
	gw gateway,
	notifier notifications.Notifier,
	paymentMetrics *metrics.PaymentMetrics,
	logg *logger.Logger,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		gateway:  gw,
		notifier: notifier,
		metrics:  paymentMetrics,
		logg:     logg,
	}, nil
}

// SetRetryScheduler installs the deferred-retry hook. Called once at wiring
// time by the retry service.
func (s *Service) SetRetryScheduler(fn func(paymentID uuid.UUID)) {
	s.scheduleRetry = fn
}

// InitiatePush starts an STK push for the order and records the attempt.
// Gateway failures still produce a payment row (failed, with reason) so the
// retry machinery can re-drive it later.
func (s *Service) InitiatePush(ctx context.Context, orderID uuid.UUID, phone string, amountCents int) (*models.Payment, error) {
	if phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone is required")
	}
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	order, err := s.repo.FindOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     orderID,
		Method:      enums.PaymentMethodMobileMoney,
		Status:      enums.PaymentStatusPending,
		AmountCents: amountCents,
		Phone:       phone,
	}

	resp, pushErr := s.gateway.STKPush(ctx, mpesa.STKPushInput{
		Phone:            phone,
		AmountCents:      amountCents,
		AccountReference: order.OrderNumber,
		Description:      fmt.Sprintf("SokoHub order %s", order.OrderNumber),
	})
	if pushErr != nil {
		s.metrics.IncPush("failed")
		reason := pushErr.Error()
		payment.Status = enums.PaymentStatusFailed
		payment.FailureReason = &reason
		// no gateway correlation id exists yet; mint a local one so the
		// unique column still holds
		payment.CheckoutRequestID = "local_" + uuid.NewString()

		if _, err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording failed payment")
		}
		return payment, pkgerrors.Wrap(pkgerrors.CodeGatewayTransient, pushErr, "initiating payment push")
	}

	payment.CheckoutRequestID = resp.CheckoutRequestID
	if resp.MerchantRequestID != "" {
		payment.MerchantRequestID = &resp.MerchantRequestID
	}
	if _, err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording payment")
	}

	s.metrics.IncPush("accepted")
	return payment, nil
}

// Reinitiate sends a fresh push for an existing payment and returns the new
// correlation id. Used by the retry scheduler; the caller owns row updates.
func (s *Service) Reinitiate(ctx context.Context, payment *models.Payment) (*mpesa.STKPushResponse, error) {
	order, err := s.repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order for retry")
	}
	resp, err := s.gateway.STKPush(ctx, mpesa.STKPushInput{
		Phone:            payment.Phone,
		AmountCents:      payment.AmountCents,
		AccountReference: order.OrderNumber,
		Description:      fmt.Sprintf("SokoHub order %s (retry)", order.OrderNumber),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTransient, err, "re-initiating payment push")
	}
	return resp, nil
}

// HandleCallback settles a push result posted by the gateway. Replays are
// no-ops: a payment that already resolved is never overwritten.
func (s *Service) HandleCallback(ctx context.Context, callback mpesa.StkCallback) error {
	ctx = s.logg.WithField(ctx, "checkout_request_id", callback.CheckoutRequestID)

	var settled *models.Payment
	var settledOrder *models.Order

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payment, err := repo.FindByCheckoutRequestID(ctx, callback.CheckoutRequestID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no payment for callback")
		}
		if err != nil {
			return err
		}

		// Re-check inside the transaction; a concurrent poll may have
		// settled this payment already.
		if payment.Status.IsResolved() {
			return nil
		}

		if callback.Succeeded() {
			receipt := callback.Receipt()
			updates := map[string]any{"status": enums.PaymentStatusSuccess}
			if receipt != "" {
				updates["mpesa_receipt"] = receipt
			}
			if err := repo.UpdatePayment(ctx, payment.ID, updates); err != nil {
				return err
			}

			if err := repo.UpdateOrder(ctx, payment.OrderID, map[string]any{
				"payment_status": enums.PaymentStatusSuccess,
				"status":         enums.OrderStatusConfirmed,
			}); err != nil {
				return err
			}
			note := "Payment received"
			if receipt != "" {
				note = fmt.Sprintf("Payment received (receipt %s)", receipt)
			}
			if err := repo.CreateOrderStatusEntry(ctx, &models.OrderStatusEntry{
				ID:      uuid.New(),
				OrderID: payment.OrderID,
				Status:  enums.OrderStatusConfirmed,
				Note:    &note,
			}); err != nil {
				return err
			}

			order, err := repo.FindOrder(ctx, payment.OrderID)
			if err != nil {
				return err
			}
			settled = payment
			settledOrder = order
			return nil
		}

		reason := callback.ResultDesc
		if reason == "" {
			reason = fmt.Sprintf("gateway result code %d", callback.ResultCode)
		}
		if err := repo.UpdatePayment(ctx, payment.ID, map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		if err := repo.UpdateOrder(ctx, payment.OrderID, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			return err
		}
		settled = payment
		return nil
	})
	if err != nil {
		s.metrics.IncCallback("error")
		return err
	}

	if settled == nil {
		s.metrics.IncCallback("replay")
		return nil
	}

	if callback.Succeeded() {
		s.metrics.IncCallback("success")
		if settledOrder != nil {
			go func(order models.Order) {
				notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := s.notifier.NotifyOrderConfirmed(notifyCtx, order.Contact(), order.OrderNumber, order.TotalCents); err != nil {
					s.logg.Warn(notifyCtx, fmt.Sprintf("payment confirmation notification failed: %v", err))
				}
			}(*settledOrder)
		}
		return nil
	}

	s.metrics.IncCallback("failed")
	if s.scheduleRetry != nil {
		s.scheduleRetry(settled.ID)
	}
	return nil
}

// CheckStatus returns the local payment, falling back to a gateway query
// while it is still pending. Settlement converges with the callback path by
// re-checking status inside the transaction.
func (s *Service) CheckStatus(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	payment, err := s.repo.FindByCheckoutRequestID(ctx, checkoutRequestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}

	if payment.Status != enums.PaymentStatusPending {
		return payment, nil
	}

	resp, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		// Poll failure is not fatal; the caller still gets the local state.
		s.logg.Warn(ctx, fmt.Sprintf("gateway status query failed: %v", err))
		return payment, nil
	}

	switch resp.ResultCode {
	case "0":
		if err := s.HandleCallback(ctx, mpesa.StkCallback{
			CheckoutRequestID: checkoutRequestID,
			ResultCode:        0,
			ResultDesc:        resp.ResultDesc,
		}); err != nil {
			return nil, err
		}
	case "":
		// still processing on the gateway side
		return payment, nil
	default:
		if err := s.HandleCallback(ctx, mpesa.StkCallback{
			CheckoutRequestID: checkoutRequestID,
			ResultCode:        1,
			ResultDesc:        resp.ResultDesc,
		}); err != nil {
			return nil, err
		}
	}

	refreshed, err := s.repo.FindByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading payment")
	}
	return refreshed, nil
}
