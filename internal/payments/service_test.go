package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/notifications"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
)

type stubGateway struct {
	pushFn  func(ctx context.Context, input mpesa.STKPushInput) (*mpesa.STKPushResponse, error)
	queryFn func(ctx context.Context, checkoutRequestID string) (*mpesa.StatusResponse, error)
	pushes  int
}

func (g *stubGateway) STKPush(ctx context.Context, input mpesa.STKPushInput) (*mpesa.STKPushResponse, error) {
	g.pushes++
	if g.pushFn == nil {
		return &mpesa.STKPushResponse{
			MerchantRequestID: "mer_" + uuid.NewString(),
			CheckoutRequestID: "chk_" + uuid.NewString(),
			ResponseCode:      "0",
		}, nil
	}
	return g.pushFn(ctx, input)
}

func (g *stubGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.StatusResponse, error) {
	if g.queryFn == nil {
		return &mpesa.StatusResponse{ResponseCode: "0"}, nil
	}
	return g.queryFn(ctx, checkoutRequestID)
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestInitiatePushRecordsPendingPayment(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		pushFn: func(_ context.Context, input mpesa.STKPushInput) (*mpesa.STKPushResponse, error) {
			if input.AccountReference != "ORD-20260828-ABC123" {
				t.Errorf("expected order number as account reference, got %q", input.AccountReference)
			}
			return &mpesa.STKPushResponse{
				MerchantRequestID: "mer_1",
				CheckoutRequestID: "chk_1",
				ResponseCode:      "0",
			}, nil
		},
	}
	svc := newTestPaymentService(t, db, gw)

	order := seedOrder(t, db)
	payment, err := svc.InitiatePush(context.Background(), order.ID, "+254712345678", 15000)
	if err != nil {
		t.Fatalf("initiate push failed: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", payment.Status)
	}
	if payment.CheckoutRequestID != "chk_1" {
		t.Fatalf("expected gateway correlation id, got %q", payment.CheckoutRequestID)
	}
	if payment.MerchantRequestID == nil || *payment.MerchantRequestID != "mer_1" {
		t.Fatalf("expected merchant request id recorded")
	}
}

func TestInitiatePushGatewayFailureStillRecordsPayment(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		pushFn: func(context.Context, mpesa.STKPushInput) (*mpesa.STKPushResponse, error) {
			return nil, errors.New("gateway unreachable")
		},
	}
	svc := newTestPaymentService(t, db, gw)

	order := seedOrder(t, db)
	payment, err := svc.InitiatePush(context.Background(), order.ID, "+254712345678", 15000)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGatewayTransient {
		t.Fatalf("expected gateway transient error, got %v", err)
	}
	if payment == nil {
		t.Fatal("expected a payment row even on push failure")
	}
	if payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", payment.Status)
	}
	if payment.FailureReason == nil || *payment.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}

	var stored models.Payment
	if err := db.Where("order_id = ?", order.ID).First(&stored).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed payment persisted, got %s", stored.Status)
	}
}

func TestInitiatePushValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &stubGateway{})

	_, err := svc.InitiatePush(context.Background(), uuid.New(), "", 1000)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.InitiatePush(context.Background(), uuid.New(), "+254712345678", 0)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.InitiatePush(context.Background(), uuid.New(), "+254712345678", 1000)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestHandleCallbackSuccessConfirmsOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &stubGateway{})

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusPending, "chk_success")

	err := svc.HandleCallback(context.Background(), mpesa.StkCallback{
		CheckoutRequestID: "chk_success",
		ResultCode:        0,
		CallbackMetadata: &mpesa.CallbackMetadata{
			Item: []mpesa.CallbackItem{{Name: "MpesaReceiptNumber", Value: "QKA12XYZ"}},
		},
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected success, got %s", stored.Status)
	}
	if stored.MpesaReceipt == nil || *stored.MpesaReceipt != "QKA12XYZ" {
		t.Fatal("expected receipt recorded")
	}

	var storedOrder models.Order
	if err := db.First(&storedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if storedOrder.PaymentStatus != enums.PaymentStatusSuccess {
		t.Fatalf("expected order payment_status success, got %s", storedOrder.PaymentStatus)
	}
	if storedOrder.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed, got %s", storedOrder.Status)
	}

	var history int64
	if err := db.Model(&models.OrderStatusEntry{}).Where("order_id = ?", order.ID).Count(&history).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if history != 1 {
		t.Fatalf("expected one history entry, got %d", history)
	}
}

func TestHandleCallbackReplayIsNoOp(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &stubGateway{})

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusSuccess, "chk_replay")
	receipt := "FIRST"
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Update("mpesa_receipt", receipt).Error; err != nil {
		t.Fatalf("seed receipt: %v", err)
	}

	// A late failure callback for an already settled payment must change
	// nothing.
	err := svc.HandleCallback(context.Background(), mpesa.StkCallback{
		CheckoutRequestID: "chk_replay",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("replay callback errored: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusSuccess {
		t.Fatalf("replay overwrote status: %s", stored.Status)
	}
	if stored.MpesaReceipt == nil || *stored.MpesaReceipt != "FIRST" {
		t.Fatal("replay touched receipt")
	}
}

func TestHandleCallbackFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &stubGateway{})

	order := seedOrder(t, db)
	payment := seedPayment(t, db, order.ID, enums.PaymentStatusPending, "chk_fail")

	var scheduled []uuid.UUID
	svc.SetRetryScheduler(func(paymentID uuid.UUID) {
		scheduled = append(scheduled, paymentID)
	})

	err := svc.HandleCallback(context.Background(), mpesa.StkCallback{
		CheckoutRequestID: "chk_fail",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	var stored models.Payment
	if err := db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "Request cancelled by user" {
		t.Fatal("expected failure reason from callback")
	}
	if len(scheduled) != 1 || scheduled[0] != payment.ID {
		t.Fatalf("expected one scheduled retry for the payment, got %v", scheduled)
	}
}

func TestHandleCallbackUnknownCorrelationID(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &stubGateway{})

	err := svc.HandleCallback(context.Background(), mpesa.StkCallback{
		CheckoutRequestID: "chk_unknown",
		ResultCode:        0,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCheckStatusSettlesPendingViaQuery(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		queryFn: func(_ context.Context, _ string) (*mpesa.StatusResponse, error) {
			return &mpesa.StatusResponse{ResultCode: "0", ResultDesc: "Processed"}, nil
		},
	}
	svc := newTestPaymentService(t, db, gw)

	order := seedOrder(t, db)
	seedPayment(t, db, order.ID, enums.PaymentStatusPending, "chk_poll")

	payment, err := svc.CheckStatus(context.Background(), "chk_poll")
	if err != nil {
		t.Fatalf("check status failed: %v", err)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("expected poll to settle payment, got %s", payment.Status)
	}

	var storedOrder models.Order
	if err := db.First(&storedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if storedOrder.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed after poll, got %s", storedOrder.Status)
	}
}

func TestCheckStatusResolvedSkipsGateway(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		queryFn: func(context.Context, string) (*mpesa.StatusResponse, error) {
			t.Error("gateway should not be queried for a resolved payment")
			return nil, errors.New("unexpected")
		},
	}
	svc := newTestPaymentService(t, db, gw)

	order := seedOrder(t, db)
	seedPayment(t, db, order.ID, enums.PaymentStatusSuccess, "chk_done")

	payment, err := svc.CheckStatus(context.Background(), "chk_done")
	if err != nil {
		t.Fatalf("check status failed: %v", err)
	}
	if payment.Status != enums.PaymentStatusSuccess {
		t.Fatalf("unexpected status %s", payment.Status)
	}
}

func TestCheckStatusGatewayDownReturnsLocalState(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	gw := &stubGateway{
		queryFn: func(context.Context, string) (*mpesa.StatusResponse, error) {
			return nil, errors.New("gateway unreachable")
		},
	}
	svc := newTestPaymentService(t, db, gw)

	order := seedOrder(t, db)
	seedPayment(t, db, order.ID, enums.PaymentStatusPending, "chk_down")

	payment, err := svc.CheckStatus(context.Background(), "chk_down")
	if err != nil {
		t.Fatalf("check status failed: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending preserved, got %s", payment.Status)
	}
}

func newTestPaymentService(t *testing.T, db *gorm.DB, gw *stubGateway) *Service {
	t.Helper()
	svc, err := NewService(
		NewRepository(db),
		gormTxRunner{db: db},
		gw,
		notifications.Nop{},
		nil,
		logger.New(logger.Options{ServiceName: "test"}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
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
	name := "Wanjiku Kamau"
	phone := "+254712345678"
	order := models.Order{
		ID:               uuid.New(),
		OrderNumber:      "ORD-20260828-ABC123",
		GuestName:        &name,
		GuestPhone:       &phone,
		SubtotalCents:    15000,
		TotalCents:       15000,
		PaymentMethod:    enums.PaymentMethodMobileMoney,
		PaymentStatus:    enums.PaymentStatusPending,
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
	payment := models.Payment{
		ID:                uuid.New(),
		OrderID:           orderID,
		Method:            enums.PaymentMethodMobileMoney,
		Status:            status,
		AmountCents:       15000,
		Phone:             "+254712345678",
		CheckoutRequestID: checkoutRequestID,
		CreatedAt:         time.Now().Add(-time.Minute),
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return &payment
}
