package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/metrics"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
)

// Outcome describes what a retry attempt did.
type Outcome string

const (
	// OutcomeRetried means a fresh push went out and the payment is pending
	// again.
	OutcomeRetried Outcome = "retried"
	// OutcomeExhausted means the payment hit the attempt cap and was marked
	// terminal.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeSkipped means the payment was not in a retryable state.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the re-push itself failed; the payment stays
	// failed and remains retryable.
	OutcomeFailed Outcome = "failed"
)

// pusher re-initiates a push for an existing payment.
type pusher interface {
	Reinitiate(ctx context.Context, payment *models.Payment) (*mpesa.STKPushResponse, error)
}

// txRunner runs a closure inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service re-drives failed mobile-money payments up to a bounded number of
// attempts.
type Service struct {
	repo    payments.Repository
	tx      txRunner
	pusher  pusher
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger

	maxAttempts int
	delay       time.Duration

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewService wires the retry machinery.
func NewService(
	repo payments.Repository,
	tx txRunner,
	p pusher,
	paymentMetrics *metrics.PaymentMetrics,
	cfg config.PaymentRetryConfig,
	logg *logger.Logger,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if p == nil {
		return nil, errors.New("pusher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Minute
	}
	return &Service{
		repo:        repo,
		tx:          tx,
		pusher:      p,
		metrics:     paymentMetrics,
		logg:        logg,
		maxAttempts: cfg.MaxAttempts,
		delay:       cfg.Delay,
		done:        make(chan struct{}),
	}, nil
}

// RetryFailedPayment re-pushes one failed payment. Payments in any other
// state are skipped, and a payment that already used up its attempts is
// marked retry_exhausted instead of pushed again.
func (s *Service) RetryFailedPayment(ctx context.Context, paymentID uuid.UUID) (Outcome, error) {
	ctx = s.logg.WithPaymentID(ctx, paymentID.String())

	var payment *models.Payment
	var attempt int
	outcome := OutcomeSkipped

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		found, err := repo.FindPayment(ctx, paymentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if err != nil {
			return err
		}
		if found.Status != enums.PaymentStatusFailed {
			outcome = OutcomeSkipped
			return nil
		}

		used, err := repo.CountRetries(ctx, found.ID)
		if err != nil {
			return err
		}
		if used >= s.maxAttempts {
			if err := repo.UpdatePayment(ctx, found.ID, map[string]any{
				"status": enums.PaymentStatusRetryExhausted,
			}); err != nil {
				return err
			}
			order, err := repo.FindOrder(ctx, found.OrderID)
			if err != nil {
				return err
			}
			if err := repo.UpdateOrder(ctx, found.OrderID, map[string]any{
				"payment_status": enums.PaymentStatusRetryExhausted,
			}); err != nil {
				return err
			}
			// Exhaustion changes the payment status only. The history entry
			// keeps the order's own status so the trail never shows a
			// transition that did not happen.
			note := fmt.Sprintf("Payment abandoned after %d retry attempts", used)
			if err := repo.CreateOrderStatusEntry(ctx, &models.OrderStatusEntry{
				ID:      uuid.New(),
				OrderID: found.OrderID,
				Status:  order.Status,
				Note:    &note,
			}); err != nil {
				return err
			}
			outcome = OutcomeExhausted
			return nil
		}

		attempt = used + 1
		if err := repo.CreateRetry(ctx, &models.PaymentRetry{
			ID:        uuid.New(),
			PaymentID: found.ID,
			Attempt:   attempt,
		}); err != nil {
			return err
		}
		payment = found
		outcome = OutcomeRetried
		return nil
	})
	if err != nil {
		return OutcomeSkipped, err
	}

	switch outcome {
	case OutcomeSkipped:
		return OutcomeSkipped, nil
	case OutcomeExhausted:
		s.metrics.IncExhausted()
		s.logg.Warn(ctx, "payment retries exhausted")
		return OutcomeExhausted, pkgerrors.New(pkgerrors.CodeRetryExhausted, "payment retry attempts exhausted")
	}

	s.metrics.IncRetry()

	resp, pushErr := s.pusher.Reinitiate(ctx, payment)
	if pushErr != nil {
		reason := pushErr.Error()
		if err := s.repo.UpdatePayment(ctx, payment.ID, map[string]any{
			"failure_reason": reason,
		}); err != nil {
			s.logg.Error(ctx, "recording retry failure reason", err)
		}
		s.logg.Warn(ctx, fmt.Sprintf("payment retry attempt %d failed: %v", attempt, pushErr))
		return OutcomeFailed, pushErr
	}

	updates := map[string]any{
		"status":              enums.PaymentStatusPending,
		"checkout_request_id": resp.CheckoutRequestID,
		"failure_reason":      nil,
	}
	if resp.MerchantRequestID != "" {
		updates["merchant_request_id"] = resp.MerchantRequestID
	}
	if err := s.repo.UpdatePayment(ctx, payment.ID, updates); err != nil {
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording retried payment")
	}

	s.logg.Info(ctx, fmt.Sprintf("payment retry attempt %d pushed", attempt))
	return OutcomeRetried, nil
}

// ScheduleAutoRetry queues a deferred retry for the payment. The retry fires
// after the configured delay unless the service shuts down first; the state
// re-check inside RetryFailedPayment makes a late timer harmless.
func (s *Service) ScheduleAutoRetry(paymentID uuid.UUID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-s.done:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := s.RetryFailedPayment(ctx, paymentID); err != nil {
			typed := pkgerrors.As(err)
			if typed != nil && typed.Code() == pkgerrors.CodeRetryExhausted {
				return
			}
			s.logg.Warn(ctx, fmt.Sprintf("scheduled payment retry failed: %v", err))
		}
	}()
}

// Close stops pending timers and waits for in-flight retries.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
