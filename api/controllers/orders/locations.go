package orders

import (
	"net/http"

	"github.com/sokohub/sokohub-backend/api/responses"
	"github.com/sokohub/sokohub-backend/internal/delivery"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

type locationResponse struct {
	Name             string `json:"name"`
	StandardFeeCents int    `json:"standard_fee_cents"`
	EstimatedDays    int    `json:"estimated_days"`
	ExpressAvailable bool   `json:"express_available"`
	ExpressFeeCents  *int   `json:"express_fee_cents,omitempty"`
}

// ListDeliveryLocations returns the active delivery zones with their fees.
func ListDeliveryLocations(svc *delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locations, err := svc.ListLocations(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]locationResponse, 0, len(locations))
		for _, loc := range locations {
			out = append(out, locationResponse{
				Name:             loc.Name,
				StandardFeeCents: loc.BaseFeeCents,
				EstimatedDays:    loc.EstimatedDays,
				ExpressAvailable: loc.ExpressAvailable,
				ExpressFeeCents:  loc.ExpressFeeCents,
			})
		}
		responses.WriteSuccess(w, map[string]any{"locations": out})
	}
}

// DeliveryEstimate returns the fee and ETA for one named location.
func DeliveryEstimate(svc *delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("location")
		if name == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "location query parameter required"))
			return
		}
		estimate, err := svc.ResolveEstimate(r.Context(), name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, estimate)
	}
}
