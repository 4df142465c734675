package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

var (
	ErrEmptyCart           = errors.New("cart has no lines")
	ErrInsufficientPayment = errors.New("payments do not cover total")
	ErrNonPositiveQuantity = errors.New("quantity must be positive")
	ErrNegativeUnitPrice   = errors.New("unit price must not be negative")
	ErrInvalidDiscount     = errors.New("invalid discount")
)

// paymentEpsilon is half a cent: an outstanding balance at or below it is
// treated as fully paid so exact-amount payments never fail on rounding.
var paymentEpsilon = decimal.New(5, -3)

var oneHundred = decimal.NewFromInt(100)

// NewLine validates a cart line at construction. Negative quantities and
// prices are rejected here rather than clamped downstream.
func NewLine(itemID string, locationID string, serial string, qty int, unitPrice decimal.Decimal, disc domain.Discount) (domain.CartLine, error) {
	if qty <= 0 {
		return domain.CartLine{}, ErrNonPositiveQuantity
	}
	if unitPrice.IsNegative() {
		return domain.CartLine{}, ErrNegativeUnitPrice
	}
	if disc.Type == "" {
		disc.Type = domain.DiscountPercent
	}
	switch disc.Type {
	case domain.DiscountPercent:
		if disc.Value.IsNegative() || disc.Value.GreaterThan(oneHundred) {
			return domain.CartLine{}, ErrInvalidDiscount
		}
	case domain.DiscountFixed:
		if disc.Value.IsNegative() {
			return domain.CartLine{}, ErrInvalidDiscount
		}
	default:
		return domain.CartLine{}, ErrInvalidDiscount
	}

	return domain.CartLine{
		ItemID:       itemID,
		LocationID:   locationID,
		SerialNumber: serial,
		Quantity:     qty,
		UnitPrice:    unitPrice,
		Discount:     disc,
	}, nil
}

func LineGross(line domain.CartLine) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// LineDiscount dispatches on the discount tag. Fixed discounts are capped
// at the line gross so a line total can never go negative.
func LineDiscount(line domain.CartLine) decimal.Decimal {
	gross := LineGross(line)
	switch line.Discount.Type {
	case domain.DiscountFixed:
		if line.Discount.Value.GreaterThan(gross) {
			return gross
		}
		return line.Discount.Value
	default:
		return gross.Mul(line.Discount.Value).Div(oneHundred)
	}
}

func LineTotal(line domain.CartLine) decimal.Decimal {
	return LineGross(line).Sub(LineDiscount(line))
}

// Aggregator computes cart totals. It is pure: no I/O, no mutation.
// Monetary values keep full precision; rounding to two decimals happens
// only at the presentation boundary.
type Aggregator struct {
	taxRatePercent decimal.Decimal
}

func NewAggregator(taxRatePercent decimal.Decimal) *Aggregator {
	if taxRatePercent.IsNegative() {
		taxRatePercent = decimal.Zero
	}
	return &Aggregator{taxRatePercent: taxRatePercent}
}

func (a *Aggregator) Subtotal(c domain.Cart) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(LineTotal(line))
	}
	return subtotal
}

// Tax is zero for non-taxable customers; otherwise the configured rate
// applied to the discounted subtotal.
func (a *Aggregator) Tax(c domain.Cart, taxable bool) decimal.Decimal {
	if !taxable {
		return decimal.Zero
	}
	return a.Subtotal(c).Mul(a.taxRatePercent).Div(oneHundred)
}

func (a *Aggregator) Total(c domain.Cart, taxable bool) decimal.Decimal {
	return a.Subtotal(c).Add(a.Tax(c, taxable))
}

func (a *Aggregator) Balance(c domain.Cart, taxable bool) decimal.Decimal {
	paid := decimal.Zero
	for _, payment := range c.Payments {
		paid = paid.Add(payment.Amount)
	}
	return a.Total(c, taxable).Sub(paid)
}

// Validate runs the pre-write checks for a commit: at least one line,
// positive quantities, and payments covering the total within epsilon.
func (a *Aggregator) Validate(c domain.Cart, taxable bool) error {
	if len(c.Lines) == 0 {
		return ErrEmptyCart
	}
	for _, line := range c.Lines {
		if line.Quantity <= 0 {
			return ErrNonPositiveQuantity
		}
	}
	if a.Balance(c, taxable).GreaterThan(paymentEpsilon) {
		return ErrInsufficientPayment
	}
	return nil
}
