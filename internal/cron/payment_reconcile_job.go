package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/sokohub/sokohub-backend/internal/payments/retry"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

const (
	// Failed payments younger than this still have an auto-retry timer in
	// flight; the sweep only picks up ones the timer missed (worker restart,
	// crashed goroutine).
	reconcileGrace = 10 * time.Minute

	reconcileBatchSize = 50
)

// stalledPaymentReader lists failed payments that stopped moving.
type stalledPaymentReader interface {
	FindStalledFailedPayments(ctx context.Context, failedBefore time.Time, limit int) ([]models.Payment, error)
}

// paymentRetrier re-drives one failed payment.
type paymentRetrier interface {
	RetryFailedPayment(ctx context.Context, paymentID uuid.UUID) (retry.Outcome, error)
}

// PaymentReconcileJobParams configure the stalled payment sweep.
type PaymentReconcileJobParams struct {
	Logger  *logger.Logger
	Reader  stalledPaymentReader
	Retrier paymentRetrier
}

// NewPaymentReconcileJob builds the cron job that re-drives failed payments
// whose scheduled retry never fired.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("stalled payment reader required")
	}
	if params.Retrier == nil {
		return nil, fmt.Errorf("payment retrier required")
	}
	return &paymentReconcileJob{
		logg:    params.Logger,
		reader:  params.Reader,
		retrier: params.Retrier,
		now:     time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg    *logger.Logger
	reader  stalledPaymentReader
	retrier paymentRetrier
	now     func() time.Time
}

func (j *paymentReconcileJob) Name() JobName { return JobPaymentReconcile }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-reconcileGrace)
	stalled, err := j.reader.FindStalledFailedPayments(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("query stalled payments: %w", err)
	}

	var errs []error
	retried, exhausted := 0, 0
	for _, payment := range stalled {
		outcome, retryErr := j.retrier.RetryFailedPayment(ctx, payment.ID)
		switch outcome {
		case retry.OutcomeRetried:
			retried++
		case retry.OutcomeExhausted:
			// Hitting the cap is a normal terminal outcome for the sweep.
			exhausted++
			continue
		}
		if retryErr != nil {
			typed := pkgerrors.As(retryErr)
			if typed != nil && typed.Code() == pkgerrors.CodeRetryExhausted {
				continue
			}
			errs = append(errs, fmt.Errorf("retry payment %s: %w", payment.ID, retryErr))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stalled":   len(stalled),
		"retried":   retried,
		"exhausted": exhausted,
	})
	j.logg.Info(logCtx, "payment reconcile sweep complete")
	return multierr.Combine(errs...)
}
