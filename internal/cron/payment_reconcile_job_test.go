package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/internal/payments/retry"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

type fakeStalledReader struct {
	payments []models.Payment
	gotLimit int
	cutoff   time.Time
}

func (f *fakeStalledReader) FindStalledFailedPayments(_ context.Context, failedBefore time.Time, limit int) ([]models.Payment, error) {
	f.cutoff = failedBefore
	f.gotLimit = limit
	return f.payments, nil
}

type fakeRetrier struct {
	outcomes map[uuid.UUID]retry.Outcome
	errs     map[uuid.UUID]error
	calls    []uuid.UUID
}

func (f *fakeRetrier) RetryFailedPayment(_ context.Context, paymentID uuid.UUID) (retry.Outcome, error) {
	f.calls = append(f.calls, paymentID)
	return f.outcomes[paymentID], f.errs[paymentID]
}

func TestPaymentReconcileJobRetriesStalledPayments(t *testing.T) {
	t.Parallel()

	retryable := models.Payment{ID: uuid.New()}
	capped := models.Payment{ID: uuid.New()}
	reader := &fakeStalledReader{payments: []models.Payment{retryable, capped}}
	retrier := &fakeRetrier{
		outcomes: map[uuid.UUID]retry.Outcome{
			retryable.ID: retry.OutcomeRetried,
			capped.ID:    retry.OutcomeExhausted,
		},
		errs: map[uuid.UUID]error{
			capped.ID: pkgerrors.New(pkgerrors.CodeRetryExhausted, "payment retry attempts exhausted"),
		},
	}

	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader:  reader,
		Retrier: retrier,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	// Exhaustion is a terminal outcome, not a sweep failure.
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(retrier.calls) != 2 {
		t.Fatalf("expected both payments attempted, got %d", len(retrier.calls))
	}
	if reader.gotLimit != reconcileBatchSize {
		t.Fatalf("expected batch size %d, got %d", reconcileBatchSize, reader.gotLimit)
	}
	if time.Since(reader.cutoff) < reconcileGrace {
		t.Fatal("cutoff must be at least one grace period in the past")
	}
}

func TestPaymentReconcileJobSurfacesRetryErrors(t *testing.T) {
	t.Parallel()

	broken := models.Payment{ID: uuid.New()}
	healthy := models.Payment{ID: uuid.New()}
	reader := &fakeStalledReader{payments: []models.Payment{broken, healthy}}
	retrier := &fakeRetrier{
		outcomes: map[uuid.UUID]retry.Outcome{
			broken.ID:  retry.OutcomeFailed,
			healthy.ID: retry.OutcomeRetried,
		},
		errs: map[uuid.UUID]error{
			broken.ID: errors.New("gateway unreachable"),
		},
	}

	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Reader:  reader,
		Retrier: retrier,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error for failed retry")
	}
	// The failing payment must not stop the rest of the batch.
	if len(retrier.calls) != 2 {
		t.Fatalf("expected both payments attempted, got %d", len(retrier.calls))
	}
}
