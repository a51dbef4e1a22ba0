package tracking

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/api/responses"
	"github.com/sokohub/sokohub-backend/api/validators"
	trackingsvc "github.com/sokohub/sokohub-backend/internal/tracking"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

type trackingResponse struct {
	TrackingID      uuid.UUID        `json:"tracking_id"`
	OrderID         uuid.UUID        `json:"order_id"`
	Status          string           `json:"status"`
	CurrentLocation *string          `json:"current_location,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	DeliveredAt     *time.Time       `json:"delivered_at,omitempty"`
	ProofOfDelivery *string          `json:"proof_of_delivery,omitempty"`
	Updates         []updateResponse `json:"updates"`
}

type updateResponse struct {
	Status    string    `json:"status"`
	Location  *string   `json:"location,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type updateStatusRequest struct {
	Status   string  `json:"status" validate:"required"`
	Location *string `json:"location,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

type confirmRequest struct {
	Proof string `json:"proof,omitempty"`
}

func newTrackingResponse(tracking *models.DeliveryTracking) trackingResponse {
	updates := make([]updateResponse, 0, len(tracking.Updates))
	for _, update := range tracking.Updates {
		updates = append(updates, updateResponse{
			Status:    update.Status.String(),
			Location:  update.Location,
			Notes:     update.Notes,
			CreatedAt: update.CreatedAt,
		})
	}
	return trackingResponse{
		TrackingID:      tracking.ID,
		OrderID:         tracking.OrderID,
		Status:          tracking.Status.String(),
		CurrentLocation: tracking.CurrentLocation,
		Notes:           tracking.Notes,
		DeliveredAt:     tracking.DeliveredAt,
		ProofOfDelivery: tracking.ProofOfDelivery,
		Updates:         updates,
	}
}

// GetByOrderNumber is the public lookup customers use from the order
// confirmation SMS. Exposes no customer details, only delivery progress.
func GetByOrderNumber(svc *trackingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if orderNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number required"))
			return
		}

		tracking, err := svc.GetTrackingByOrderNumber(r.Context(), orderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTrackingResponse(tracking))
	}
}

// Get returns the tracking record for an order id. Staff only.
func Get(svc *trackingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tracking, err := svc.GetTracking(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTrackingResponse(tracking))
	}
}

// UpdateStatus records a courier movement for an order's delivery.
func UpdateStatus(svc *trackingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseDeliveryStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status"))
			return
		}

		tracking, err := svc.UpdateStatus(r.Context(), orderID, trackingsvc.UpdateInput{
			Status:   status,
			Location: payload.Location,
			Notes:    payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTrackingResponse(tracking))
	}
}

// Confirm marks an order as delivered, attaching proof when the courier
// supplies one.
func Confirm(svc *trackingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tracking, err := svc.ConfirmDelivery(r.Context(), orderID, payload.Proof)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTrackingResponse(tracking))
	}
}
