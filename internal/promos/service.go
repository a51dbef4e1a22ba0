package promos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sokohub/sokohub-backend/pkg/db/models"
	pkgerrors "github.com/sokohub/sokohub-backend/pkg/errors"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/logger"
)

// Discount is the computed reduction for a validated code.
type Discount struct {
	Code        string
	AmountCents int
}

// Service validates and redeems promo codes. Redemption is a conditional
// UPDATE so usage-limited codes cannot be over-redeemed under concurrency.
type Service struct {
	db   *gorm.DB
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds the promo service.
func NewService(db *gorm.DB, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{db: db, logg: logg, now: time.Now}, nil
}

// Validate checks the code against its window, floor and usage limit and
// returns the discount it would grant on the given subtotal.
func (s *Service) Validate(ctx context.Context, code string, subtotalCents int) (*Discount, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is required")
	}

	var promo models.PromoCode
	err := s.db.WithContext(ctx).Where("code = ?", normalized).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("promo code %q not found", normalized))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading promo code")
	}

	now := s.now()
	switch {
	case !promo.Active:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is inactive")
	case promo.StartsAt != nil && now.Before(*promo.StartsAt):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is not active yet")
	case promo.EndsAt != nil && now.After(*promo.EndsAt):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code has expired")
	case promo.UsageLimit != nil && promo.UsedCount >= *promo.UsageLimit:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code usage limit reached")
	case subtotalCents < promo.MinOrderCents:
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("order subtotal below promo minimum of %d", promo.MinOrderCents)).
			WithDetails(map[string]any{"min_order_cents": promo.MinOrderCents, "subtotal_cents": subtotalCents})
	}

	return &Discount{
		Code:        promo.Code,
		AmountCents: discountAmount(&promo, subtotalCents),
	}, nil
}

// Redeem consumes one use of the code. Zero affected rows means the code
// raced to its usage limit or was deactivated since validation.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, code string) error {
	if tx == nil {
		tx = s.db
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))

	res := tx.WithContext(ctx).Model(&models.PromoCode{}).
		Where("code = ? AND active = ?", normalized, true).
		Where("usage_limit IS NULL OR used_count < usage_limit").
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "redeeming promo code")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "promo code can no longer be redeemed")
	}
	return nil
}

func discountAmount(promo *models.PromoCode, subtotalCents int) int {
	var amount int
	switch promo.DiscountType {
	case enums.DiscountTypePercentage:
		amount = subtotalCents * promo.Value / 100
		if promo.MaxDiscountCents != nil && amount > *promo.MaxDiscountCents {
			amount = *promo.MaxDiscountCents
		}
	case enums.DiscountTypeFixed:
		amount = promo.Value
	}
	if amount > subtotalCents {
		amount = subtotalCents
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}
