package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
)

type stubPusher struct {
	fn    func(ctx context.Context, payment *models.Payment) (*mpesa.STKPushResponse, error)
	calls int
}

func (p *stubPusher) Reinitiate(ctx context.Context, payment *models.Payment) (*mpesa.STKPushResponse, error) {
	p.calls++
	if p.fn == nil {
		return &mpesa.STKPushResponse{
			MerchantRequestID: "mer_retry",
			CheckoutRequestID: "chk_retry_" + uuid.NewString(),
			ResponseCode:      "0",
		}, nil
	}
	return p.fn(ctx, payment)
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestRetryFailedPaymentRepushes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusFailed, "chk_old")

	outcome, err := svc.RetryFailedPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if outcome != OutcomeRetried {
		t.Fatalf("expected retried, got %s", outcome)
	}
	if push.calls != 1 {
		t.Fatalf("expected one push, got %d", push.calls)
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending after retry, got %s", stored.Status)
	}
	if stored.CheckoutRequestID == "chk_old" {
		t.Fatal("expected a fresh correlation id")
	}
	if stored.FailureReason != nil {
		t.Fatal("expected failure reason cleared")
	}

	var attempts int64
	if err := db.Model(&models.PaymentRetry{}).Where("payment_id = ?", payment.ID).Count(&attempts).Error; err != nil {
		t.Fatalf("count retries: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected one retry row, got %d", attempts)
	}
}

func TestRetryFailedPaymentSkipsNonFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	for _, status := range []enums.PaymentStatus{
		enums.PaymentStatusPending,
		enums.PaymentStatusSuccess,
		enums.PaymentStatusRetryExhausted,
	} {
		payment := seedPayment(t, db, order.ID, status, "chk_"+string(status))
		outcome, err := svc.RetryFailedPayment(context.Background(), payment.ID)
		if err != nil {
			t.Fatalf("retry errored for %s: %v", status, err)
		}
		if outcome != OutcomeSkipped {
			t.Fatalf("expected skip for %s, got %s", status, outcome)
		}
	}
	if push.calls != 0 {
		t.Fatalf("expected no pushes, got %d", push.calls)
	}
}

func TestRetryFailedPaymentExhaustsAtCap(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusFailed, "chk_cap")
	for attempt := 1; attempt <= 3; attempt++ {
		seedRetry(t, db, payment.ID, attempt)
	}
	err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("status", enums.OrderStatusConfirmed).Error
	if err != nil {
		t.Fatalf("set order status: %v", err)
	}

	outcome, err := svc.RetryFailedPayment(context.Background(), payment.ID)
	if outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted, got %s", outcome)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeRetryExhausted {
		t.Fatalf("expected retry exhausted error, got %v", err)
	}
	if push.calls != 0 {
		t.Fatalf("expected no push at the cap, got %d", push.calls)
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusRetryExhausted {
		t.Fatalf("expected retry_exhausted, got %s", stored.Status)
	}

	var storedOrder models.Order
	if err := db.First(&storedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if storedOrder.PaymentStatus != enums.PaymentStatusRetryExhausted {
		t.Fatalf("expected order payment_status retry_exhausted, got %s", storedOrder.PaymentStatus)
	}
	if storedOrder.Status != enums.OrderStatusConfirmed {
		t.Fatalf("exhaustion must not move the order status, got %s", storedOrder.Status)
	}

	var entry models.OrderStatusEntry
	if err := db.Where("order_id = ?", order.ID).First(&entry).Error; err != nil {
		t.Fatalf("load status entry: %v", err)
	}
	if entry.Status != enums.OrderStatusConfirmed {
		t.Fatalf("history entry must carry the order's own status, got %s", entry.Status)
	}
	if entry.Note == nil || *entry.Note != "Payment abandoned after 3 retry attempts" {
		t.Fatal("expected abandonment note on the history entry")
	}
}

func TestRetryFailedPaymentPushFailureStaysRetryable(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{
		fn: func(context.Context, *models.Payment) (*mpesa.STKPushResponse, error) {
			return nil, errors.New("gateway unreachable")
		},
	}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusFailed, "chk_flaky")

	outcome, err := svc.RetryFailedPayment(context.Background(), payment.ID)
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
	if err == nil {
		t.Fatal("expected push error surfaced")
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected payment still failed, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "gateway unreachable" {
		t.Fatal("expected failure reason recorded")
	}

	// The attempt was consumed even though the push did not go through.
	var attempts int64
	if err := db.Model(&models.PaymentRetry{}).Where("payment_id = ?", payment.ID).Count(&attempts).Error; err != nil {
		t.Fatalf("count retries: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected one retry row, got %d", attempts)
	}
}

func TestRetryFailedPaymentUnknownPayment(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestRetryService(t, db, &stubPusher{})

	_, err := svc.RetryFailedPayment(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestScheduleAutoRetryFiresAfterDelay(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusFailed, "chk_auto")

	svc.ScheduleAutoRetry(payment.ID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var stored models.Payment
		if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
			t.Fatalf("load payment: %v", err)
		}
		if stored.Status == enums.PaymentStatusPending {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled retry never fired, status %s", stored.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduleAutoRetryAfterCloseIsNoOp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	push := &stubPusher{}
	svc := newTestRetryService(t, db, push)

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusFailed, "chk_closed")

	svc.Close()
	svc.ScheduleAutoRetry(payment.ID)

	if push.calls != 0 {
		t.Fatalf("expected no push after close, got %d", push.calls)
	}
}

func newTestRetryService(t *testing.T, db *gorm.DB, push *stubPusher) *Service {
	t.Helper()
	svc, err := NewService(
		payments.NewRepository(db),
		gormTxRunner{db: db},
		push,
		nil,
		config.PaymentRetryConfig{MaxAttempts: 3, Delay: time.Millisecond},
		logger.New(logger.Options{ServiceName: "test"}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payment_retry_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{},
		&models.OrderStatusEntry{},
		&models.Payment{},
		&models.PaymentRetry{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()
	phone := "+254712345678"
	order := models.Order{
		ID:               uuid.New(),
		OrderNumber:      "ORD-20260828-" + uuid.NewString()[:6],
		GuestPhone:       &phone,
		SubtotalCents:    15000,
		TotalCents:       15000,
		PaymentMethod:    enums.PaymentMethodMobileMoney,
		PaymentStatus:    enums.PaymentStatusFailed,
		Status:           enums.OrderStatusPending,
		DeliveryLocation: "Nairobi CBD",
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func seedPayment(t *testing.T, db *gorm.DB, orderID uuid.UUID, status enums.PaymentStatus, checkoutRequestID string) *models.Payment {
	t.Helper()
	reason := "Request cancelled by user"
	payment := models.Payment{
		ID:                uuid.New(),
		OrderID:           orderID,
		Method:            enums.PaymentMethodMobileMoney,
		Status:            status,
		AmountCents:       15000,
		Phone:             "+254712345678",
		CheckoutRequestID: checkoutRequestID,
	}
	if status == enums.PaymentStatusFailed {
		payment.FailureReason = &reason
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return &payment
}

func seedRetry(t *testing.T, db *gorm.DB, paymentID uuid.UUID, attempt int) {
	t.Helper()
	row := models.PaymentRetry{ID: uuid.New(), PaymentID: paymentID, Attempt: attempt}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed retry: %v", err)
	}
}
