package loyalty

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

// Store is the slice of the repository the hooks need.
type Store interface {
	AccrueLoyaltyPoints(ctx context.Context, entry domain.LoyaltyEntry) (int64, error)
	CreateCommission(ctx context.Context, commission domain.Commission) (*domain.Commission, error)
}

// Hooks runs the post-commit side effects of a completed sale: loyalty
// point accrual for the customer and an unpaid commission record for the
// employee. Both are best-effort; failures are returned as warnings and
// never unwind the committed sale.
type Hooks struct {
	store          Store
	pointsRate     decimal.Decimal
	commissionRate decimal.Decimal
	commissionType string
}

func New(store Store, pointsRate decimal.Decimal, commissionRate decimal.Decimal, commissionType string) *Hooks {
	if pointsRate.IsNegative() {
		pointsRate = decimal.Zero
	}
	if commissionType != domain.CommissionPercentage && commissionType != domain.CommissionFixed {
		commissionType = domain.CommissionPercentage
	}
	return &Hooks{
		store:          store,
		pointsRate:     pointsRate,
		commissionRate: commissionRate,
		commissionType: commissionType,
	}
}

// Points is floor(total * rate): one point per whole currency unit at the
// default rate of 1.
func Points(total decimal.Decimal, rate decimal.Decimal) int64 {
	if total.IsNegative() || rate.IsNegative() {
		return 0
	}
	return total.Mul(rate).Floor().IntPart()
}

func CommissionAmount(total decimal.Decimal, rate decimal.Decimal, commissionType string) decimal.Decimal {
	if commissionType == domain.CommissionFixed {
		return rate
	}
	return total.Mul(rate).Div(decimal.NewFromInt(100))
}

// Run executes both hooks for a committed sale and returns warnings for
// any that failed.
func (h *Hooks) Run(ctx context.Context, sale domain.Sale) []string {
	warnings := make([]string, 0, 2)

	if sale.CustomerID != "" && h.pointsRate.IsPositive() {
		points := Points(sale.Total, h.pointsRate)
		if points > 0 {
			_, err := h.store.AccrueLoyaltyPoints(ctx, domain.LoyaltyEntry{
				ID:         uuid.NewString(),
				TenantID:   sale.TenantID,
				CustomerID: sale.CustomerID,
				SaleID:     sale.ID,
				Points:     points,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				log.Printf("[loyalty] WARN: failed to accrue points sale=%s customer=%s: %v", sale.ID, sale.CustomerID, err)
				warnings = append(warnings, fmt.Sprintf("loyalty points not recorded: %v", err))
			}
		}
	}

	if sale.EmployeeID != "" && h.commissionRate.IsPositive() {
		amount := CommissionAmount(sale.Total, h.commissionRate, h.commissionType)
		if amount.IsPositive() {
			_, err := h.store.CreateCommission(ctx, domain.Commission{
				ID:         uuid.NewString(),
				TenantID:   sale.TenantID,
				EmployeeID: sale.EmployeeID,
				SaleID:     sale.ID,
				Type:       h.commissionType,
				Rate:       h.commissionRate,
				Amount:     amount,
				Paid:       false,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				log.Printf("[loyalty] WARN: failed to record commission sale=%s employee=%s: %v", sale.ID, sale.EmployeeID, err)
				warnings = append(warnings, fmt.Sprintf("commission not recorded: %v", err))
			}
		}
	}

	return warnings
}
