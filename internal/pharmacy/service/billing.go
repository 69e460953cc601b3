package service

import (
	"github.com/shopspring/decimal"

	"github.com/pharmstock/pharmstock-backend/internal/pharmacy/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/config"
)

// Discount types for patient and walk-in sales
const (
	DiscountSenior = "senior"
	DiscountPWD    = "pwd"
)

// OrderTotals holds the computed billing amounts for an order
type OrderTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	Total          decimal.Decimal `json:"total"`
}

// BillingCalculator computes order totals from configured VAT and discount
// rates
type BillingCalculator struct {
	vatRate      decimal.Decimal
	discountRate decimal.Decimal
}

// NewBillingCalculator creates a calculator from billing configuration.
// Unparseable rates fall back to the statutory defaults.
func NewBillingCalculator(cfg config.BillingConfig) *BillingCalculator {
	vat, err := decimal.NewFromString(cfg.VATRate)
	if err != nil {
		vat = decimal.NewFromFloat(0.12)
	}
	disc, err := decimal.NewFromString(cfg.DiscountRate)
	if err != nil {
		disc = decimal.NewFromFloat(0.20)
	}
	return &BillingCalculator{vatRate: vat, discountRate: disc}
}

// ValidDiscountType reports whether the discount type is recognized
func ValidDiscountType(t string) bool {
	return t == DiscountSenior || t == DiscountPWD
}

// Compute calculates totals for the given lines. Senior and PWD sales get
// the configured discount and are VAT-exempt; all other sales pay VAT on
// the subtotal. Amounts are rounded to centavos.
func (c *BillingCalculator) Compute(lines []*repository.OrderLine, discountType *string) OrderTotals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	totals := OrderTotals{Subtotal: subtotal.Round(2)}

	if discountType != nil && ValidDiscountType(*discountType) {
		totals.DiscountAmount = subtotal.Mul(c.discountRate).Round(2)
		totals.VATAmount = decimal.Zero
	} else {
		totals.DiscountAmount = decimal.Zero
		totals.VATAmount = subtotal.Mul(c.vatRate).Round(2)
	}

	totals.Total = totals.Subtotal.Sub(totals.DiscountAmount).Add(totals.VATAmount)
	return totals
}
