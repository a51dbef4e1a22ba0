package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/types"
)

type orderResponse struct {
	OrderID          uuid.UUID              `json:"order_id"`
	OrderNumber      string                 `json:"order_number"`
	Status           string                 `json:"status"`
	PaymentStatus    string                 `json:"payment_status"`
	PaymentMethod    string                 `json:"payment_method"`
	SubtotalCents    int                    `json:"subtotal_cents"`
	DeliveryFeeCents int                    `json:"delivery_fee_cents"`
	DiscountCents    int                    `json:"discount_cents"`
	TotalCents       int                    `json:"total_cents"`
	DeliveryLocation string                 `json:"delivery_location"`
	ExpressDelivery  bool                   `json:"express_delivery"`
	PromoCode        *string                `json:"promo_code,omitempty"`
	ShippingAddress  *types.ShippingAddress `json:"shipping_address,omitempty"`
	Items            []orderItemResponse    `json:"items"`
	StatusHistory    []statusEntryResponse  `json:"status_history,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

type orderItemResponse struct {
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	Name           string     `json:"name"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int        `json:"unit_price_cents"`
	TotalCents     int        `json:"total_cents"`
}

type statusEntryResponse struct {
	Status    string    `json:"status"`
	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type paymentResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	Status            string    `json:"status"`
	AmountCents       int       `json:"amount_cents"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
}

type checkoutResponse struct {
	Order   orderResponse    `json:"order"`
	Payment *paymentResponse `json:"payment,omitempty"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type returnResponse struct {
	ReturnID  uuid.UUID `json:"return_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		})
	}
	history := make([]statusEntryResponse, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusEntryResponse{
			Status:    entry.Status.String(),
			Note:      entry.Note,
			CreatedAt: entry.CreatedAt,
		})
	}
	return orderResponse{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status.String(),
		PaymentStatus:    order.PaymentStatus.String(),
		PaymentMethod:    order.PaymentMethod.String(),
		SubtotalCents:    order.SubtotalCents,
		DeliveryFeeCents: order.DeliveryFeeCents,
		DiscountCents:    order.DiscountCents,
		TotalCents:       order.TotalCents,
		DeliveryLocation: order.DeliveryLocation,
		ExpressDelivery:  order.ExpressDelivery,
		PromoCode:        order.PromoCode,
		ShippingAddress:  order.ShippingAddress,
		Items:            items,
		StatusHistory:    history,
		CreatedAt:        order.CreatedAt,
	}
}

func newPaymentResponse(payment *models.Payment) *paymentResponse {
	if payment == nil {
		return nil
	}
	return &paymentResponse{
		PaymentID:         payment.ID,
		Status:            payment.Status.String(),
		AmountCents:       payment.AmountCents,
		CheckoutRequestID: payment.CheckoutRequestID,
		FailureReason:     payment.FailureReason,
	}
}
