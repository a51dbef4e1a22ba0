package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/internal/inventory"
	"github.com/sokohub/sokohub-backend/internal/notifications"
	"github.com/sokohub/sokohub-backend/pkg/db"
	"github.com/sokohub/sokohub-backend/pkg/db/models"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/pagination"
)

// order numbers collide rarely; retry a handful of times with a fresh suffix
const maxOrderNumberAttempts = 5

// Service orchestrates checkout and the order lifecycle.
type Service struct {
	repo     Repository
	tx       txRunner
	delivery feeResolver
	promos   promoEngine
	stock    stockReserver
	payments paymentInitiator
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the checkout orchestrator. The payment initiator may be
// nil only when mobile-money checkout is disabled.
func NewService(
	repo Repository,
	tx txRunner,
	deliverySvc feeResolver,
	promoSvc promoEngine,
	stockSvc stockReserver,
	paymentSvc paymentInitiator,
	notifier notifications.Notifier,
	logg *logger.Logger,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if deliverySvc == nil {
		return nil, errors.New("delivery service is required")
	}
	if promoSvc == nil {
		return nil, errors.New("promo service is required")
	}
	if stockSvc == nil {
		return nil, errors.New("inventory service is required")
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:     repo,
		tx:       tx,
		delivery: deliverySvc,
		promos:   promoSvc,
		stock:    stockSvc,
		payments: paymentSvc,
		notifier: notifier,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// CreateOrder places an order for an authenticated user or a guest.
//
// The write happens in two transactions: the first persists the order
// aggregate, the second decrements stock. A failed decrement never orphans
// the order; it is flipped to stock_conflict for reconciliation instead.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "delivery_location", input.DeliveryLocation)

	feeCents, err := s.delivery.ResolveFee(ctx, input.DeliveryLocation, input.ExpressDelivery)
	if err != nil {
		return nil, err
	}

	lines, subtotalCents, err := s.buildLines(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	discountCents, promoCode := s.applyAdvisoryPromo(ctx, input.PromoCode, subtotalCents)

	totalCents := subtotalCents + feeCents - discountCents
	if totalCents < 0 {
		totalCents = 0
	}

	order, err := s.persistOrder(ctx, input, lines, subtotalCents, feeCents, discountCents, totalCents, promoCode)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderNumber(ctx, order.OrderNumber)

	if err := s.reserveStock(ctx, order, input.Items); err != nil {
		return nil, err
	}

	if input.UserID != nil {
		productIDs := make([]uuid.UUID, 0, len(input.Items))
		for _, item := range input.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		if err := s.repo.ClearCartItems(ctx, *input.UserID, productIDs); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("clearing cart items failed: %v", err))
		}
	}

	result := &CheckoutResult{Order: order}
	if input.PaymentMethod == enums.PaymentMethodMobileMoney {
		if s.payments == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "mobile money checkout is not configured")
		}
		payment, pushErr := s.payments.InitiatePush(ctx, order.ID, input.Contact.Phone, totalCents)
		if pushErr != nil {
			// The order stands; the failed attempt is recorded and retryable.
			s.logg.Warn(ctx, fmt.Sprintf("payment push failed: %v", pushErr))
		}
		result.Payment = payment
	}

	go func(contact models.Order) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifyDeliveryUpdate(notifyCtx, contact.Contact(), contact.OrderNumber, enums.DeliveryStatusOrderPlaced); err != nil {
			s.logg.Warn(notifyCtx, fmt.Sprintf("order placement notification failed: %v", err))
		}
	}(*order)

	return result, nil
}

type orderLine struct {
	productID      uuid.UUID
	variantID      *uuid.UUID
	name           string
	quantity       int
	unitPriceCents int
}

func (s *Service) buildLines(ctx context.Context, items []OrderItemInput) ([]orderLine, int, error) {
	productIDs := make([]uuid.UUID, 0, len(items))
	variantIDs := make([]uuid.UUID, 0)
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
		if item.VariantID != nil {
			variantIDs = append(variantIDs, *item.VariantID)
		}
	}

	products, err := s.repo.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading products")
	}
	variants, err := s.repo.FindVariants(ctx, variantIDs)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variants")
	}

	lines := make([]orderLine, 0, len(items))
	subtotal := 0
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("product %s is not available", item.ProductID))
		}

		name := product.Name
		price := product.PriceCents
		if item.VariantID != nil {
			variant, ok := variants[*item.VariantID]
			if !ok || variant.ProductID != item.ProductID || !variant.Active {
				return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound,
					fmt.Sprintf("variant %s is not available", *item.VariantID))
			}
			name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
			if variant.PriceCents != nil {
				price = *variant.PriceCents
			}
		}

		lines = append(lines, orderLine{
			productID:      item.ProductID,
			variantID:      item.VariantID,
			name:           name,
			quantity:       item.Quantity,
			unitPriceCents: price,
		})
		subtotal += price * item.Quantity
	}
	return lines, subtotal, nil
}

// applyAdvisoryPromo validates and redeems the code before totals are
// computed. On the checkout path a bad code is logged and ignored, never a
// checkout failure.
func (s *Service) applyAdvisoryPromo(ctx context.Context, code string, subtotalCents int) (int, *string) {
	if strings.TrimSpace(code) == "" {
		return 0, nil
	}

	discount, err := s.promos.Validate(ctx, code, subtotalCents)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("promo code %q ignored: %v", code, err))
		return 0, nil
	}
	if err := s.promos.Redeem(ctx, nil, discount.Code); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("promo code %q redeem raced: %v", code, err))
		return 0, nil
	}
	return discount.AmountCents, &discount.Code
}

func (s *Service) persistOrder(
	ctx context.Context,
	input CreateOrderInput,
	lines []orderLine,
	subtotalCents, feeCents, discountCents, totalCents int,
	promoCode *string,
) (*models.Order, error) {
	address := input.ShippingAddress
	var created *models.Order

	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order := &models.Order{
			ID:               uuid.New(),
			OrderNumber:      s.generateOrderNumber(),
			UserID:           input.UserID,
			SubtotalCents:    subtotalCents,
			DeliveryFeeCents: feeCents,
			DiscountCents:    discountCents,
			TotalCents:       totalCents,
			PaymentMethod:    input.PaymentMethod,
			PaymentStatus:    enums.PaymentStatusPending,
			Status:           enums.OrderStatusPending,
			DeliveryLocation: input.DeliveryLocation,
			ExpressDelivery:  input.ExpressDelivery,
			ShippingAddress:  &address,
			PromoCode:        promoCode,
		}
		if input.Contact.FullName != "" {
			order.GuestName = &input.Contact.FullName
		}
		if input.Contact.Phone != "" {
			order.GuestPhone = &input.Contact.Phone
		}
		if input.Contact.Email != "" {
			order.GuestEmail = &input.Contact.Email
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			if _, err := repo.CreateOrder(ctx, order); err != nil {
				return err
			}

			orderItems := make([]models.OrderItem, 0, len(lines))
			for _, line := range lines {
				orderItems = append(orderItems, models.OrderItem{
					ID:             uuid.New(),
					OrderID:        order.ID,
					ProductID:      line.productID,
					VariantID:      line.variantID,
					Name:           line.name,
					Quantity:       line.quantity,
					UnitPriceCents: line.unitPriceCents,
					TotalCents:     line.unitPriceCents * line.quantity,
				})
			}
			if err := repo.CreateOrderItems(ctx, orderItems); err != nil {
				return err
			}

			note := "Order created"
			if err := repo.CreateStatusEntry(ctx, &models.OrderStatusEntry{
				ID:      uuid.New(),
				OrderID: order.ID,
				Status:  enums.OrderStatusPending,
				Note:    &note,
			}); err != nil {
				return err
			}

			tracking := &models.DeliveryTracking{
				ID:      uuid.New(),
				OrderID: order.ID,
				Status:  enums.DeliveryStatusOrderPlaced,
			}
			if _, err := repo.CreateTracking(ctx, tracking); err != nil {
				return err
			}
			return repo.CreateTrackingUpdate(ctx, &models.DeliveryUpdate{
				ID:         uuid.New(),
				TrackingID: tracking.ID,
				Status:     enums.DeliveryStatusOrderPlaced,
			})
		})
		if err == nil {
			created = order
			break
		}
		if db.IsUniqueViolation(err, "orders_order_number_key") {
			continue
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting order")
	}

	if created == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
	}
	return created, nil
}

// reserveStock runs the conditional decrements in their own transaction.
// Failure compensates the already-committed order instead of deleting it.
func (s *Service) reserveStock(ctx context.Context, order *models.Order, items []OrderItemInput) error {
	reserveItems := make([]inventory.ReserveItem, 0, len(items))
	for _, item := range items {
		reserveItems = append(reserveItems, inventory.ReserveItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	reserveErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.stock.CheckAndReserve(ctx, tx, reserveItems)
	})
	if reserveErr == nil {
		return nil
	}

	s.logg.Error(ctx, "stock reservation failed after order commit; flagging for reconciliation", reserveErr)

	compErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"status": enums.OrderStatusStockConflict}); err != nil {
			return err
		}
		note := fmt.Sprintf("stock reservation failed: %v", reserveErr)
		return repo.CreateStatusEntry(ctx, &models.OrderStatusEntry{
			ID:      uuid.New(),
			OrderID: order.ID,
			Status:  enums.OrderStatusStockConflict,
			Note:    &note,
		})
	})
	if compErr != nil {
		s.logg.Error(ctx, "stock conflict compensation failed", compErr)
	}
	order.Status = enums.OrderStatusStockConflict

	return pkgerrors.Wrap(pkgerrors.CodeStockConflict, reserveErr,
		fmt.Sprintf("order %s requires stock reconciliation", order.OrderNumber))
}

// GetOrder loads one order with its children. A non-nil requester scopes
// access to orders they own.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID, requesterID *uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if requesterID != nil && (order.UserID == nil || *order.UserID != *requesterID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another account")
	}
	return order, nil
}

// ListOrders pages through the requester's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params, filters ListFilters) (*OrderList, error) {
	list, err := s.repo.ListOrders(ctx, userID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return list, nil
}

// UpdateStatus appends a history entry and moves the order, guarding
// against transitions the lifecycle does not allow.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, note *string) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", status))
	}

	order, err := s.GetOrder(ctx, orderID, nil)
	if err != nil {
		return nil, err
	}
	if order.Status == status {
		return order, nil
	}
	if !transitionAllowed(order.Status, status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, status))
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateOrder(ctx, orderID, map[string]any{"status": status}); err != nil {
			return err
		}
		return repo.CreateStatusEntry(ctx, &models.OrderStatusEntry{
			ID:      uuid.New(),
			OrderID: orderID,
			Status:  status,
			Note:    note,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
	}

	order.Status = status
	return order, nil
}

// ApplyPromoCode is the strict promo path: invalid codes are errors, and
// only unpaid pending orders can be repriced.
func (s *Service) ApplyPromoCode(ctx context.Context, orderID uuid.UUID, code string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, nil)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "promo codes can only be applied to unpaid pending orders")
	}
	if order.PromoCode != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a promo code")
	}

	discount, err := s.promos.Validate(ctx, code, order.SubtotalCents)
	if err != nil {
		return nil, err
	}

	total := order.SubtotalCents + order.DeliveryFeeCents - discount.AmountCents
	if total < 0 {
		total = 0
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.promos.Redeem(ctx, tx, discount.Code); err != nil {
			return err
		}
		return s.repo.WithTx(tx).UpdateOrder(ctx, orderID, map[string]any{
			"promo_code":     discount.Code,
			"discount_cents": discount.AmountCents,
			"total_cents":    total,
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "applying promo code")
	}

	order.PromoCode = &discount.Code
	order.DiscountCents = discount.AmountCents
	order.TotalCents = total
	return order, nil
}

// CreateReturnRequest files a return for a delivered order.
func (s *Service) CreateReturnRequest(ctx context.Context, orderID uuid.UUID, requesterID *uuid.UUID, reason string) (*models.ReturnRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return reason is required")
	}

	order, err := s.GetOrder(ctx, orderID, requesterID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned")
	}

	request := &models.ReturnRequest{
		ID:      uuid.New(),
		OrderID: orderID,
		Reason:  strings.TrimSpace(reason),
		Status:  enums.ReturnStatusRequested,
	}
	if _, err := s.repo.CreateReturnRequest(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating return request")
	}
	return request, nil
}

func (s *Service) generateOrderNumber() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; fall back to time
		return fmt.Sprintf("ORD-%s-%06X", s.now().UTC().Format("20060102"), s.now().UnixNano()%0xFFFFFF)
	}
	return fmt.Sprintf("ORD-%s-%s", s.now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}

func validateCreateInput(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	if input.DeliveryLocation == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery location is required")
	}
	if input.UserID == nil {
		if input.Contact.FullName == "" || input.Contact.Phone == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "guest checkout requires a name and phone number")
		}
	}
	if input.PaymentMethod == enums.PaymentMethodMobileMoney && input.Contact.Phone == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "mobile money requires a phone number")
	}
	return nil
}
