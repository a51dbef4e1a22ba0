package payments

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/api/responses"
	"github.com/sokohub/sokohub-backend/api/validators"
	paymentssvc "github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/internal/payments/retry"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

type statusResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	OrderID           uuid.UUID `json:"order_id"`
	Status            string    `json:"status"`
	AmountCents       int       `json:"amount_cents"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	MpesaReceipt      *string   `json:"mpesa_receipt,omitempty"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
}

type retryResponse struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Outcome   string    `json:"outcome"`
}

func newStatusResponse(payment *models.Payment) statusResponse {
	return statusResponse{
		PaymentID:         payment.ID,
		OrderID:           payment.OrderID,
		Status:            payment.Status.String(),
		AmountCents:       payment.AmountCents,
		CheckoutRequestID: payment.CheckoutRequestID,
		MpesaReceipt:      payment.MpesaReceipt,
		FailureReason:     payment.FailureReason,
	}
}

// CheckStatus returns the state of a payment by its gateway correlation id,
// polling the gateway first when the payment is still pending.
func CheckStatus(svc *paymentssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkoutRequestID := strings.TrimSpace(chi.URLParam(r, "checkoutRequestID"))
		if checkoutRequestID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id required"))
			return
		}

		payment, err := svc.CheckStatus(r.Context(), checkoutRequestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStatusResponse(payment))
	}
}

// Retry re-drives a failed payment through a fresh STK push.
func Retry(svc *retry.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParsePathUUID(chi.URLParam(r, "paymentID"), "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.RetryFailedPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, retryResponse{PaymentID: paymentID, Outcome: string(outcome)})
	}
}
