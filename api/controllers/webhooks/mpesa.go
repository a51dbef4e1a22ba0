package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
)

type daraja struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// MpesaCallback receives the gateway's STK push result. The gateway treats
// any non-zero acknowledgment as undelivered and keeps re-posting, so this
// handler always acknowledges; processing errors are logged and the
// reconcile sweep picks up anything that slipped through.
func MpesaCallback(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var envelope mpesa.CallbackEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			logg.Error(ctx, "mpesa callback body unreadable", err)
			acknowledge(w)
			return
		}

		callback := envelope.Body.StkCallback
		logCtx := logg.WithFields(ctx, map[string]any{
			"checkout_request_id": callback.CheckoutRequestID,
			"result_code":         callback.ResultCode,
		})
		if err := svc.HandleCallback(ctx, callback); err != nil {
			logg.Error(logCtx, "mpesa callback processing failed", err)
		} else {
			logg.Info(logCtx, "mpesa callback processed")
		}
		acknowledge(w)
	}
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(daraja{ResultCode: 0, ResultDesc: "Accepted"})
}
