// Package money computes bill totals. Every screen that shows an amount goes
// through ComputeBill so the point-of-sale, billing and dashboard views can
// never disagree on a total.
//
// Amounts are carried at full precision; rounding to two places happens only
// in Rounded/Fixed, at presentation time.
package money

import (
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineTotals is the breakdown of a single order item.
type LineTotals struct {
	ItemID         string          `json:"item_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// BillTotals is the result of ComputeBill.
type BillTotals struct {
	Lines              []LineTotals    `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	ItemDiscountTotal  decimal.Decimal `json:"item_discount_total"`
	AfterItemDiscount  decimal.Decimal `json:"after_item_discount"`
	BillDiscountAmount decimal.Decimal `json:"bill_discount_amount"`
	TaxableBase        decimal.Decimal `json:"taxable_base"`
	Tax                decimal.Decimal `json:"tax"`
	ServiceCharge      decimal.Decimal `json:"service_charge"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
}

// ComputeBill runs the fixed billing pipeline:
//
//	line subtotal -> line discount -> bill discount -> taxable base
//	-> tax, service charge -> grand total
//
// It never fails. Negative prices, quantities below one, negative discount
// values and negative rates all contribute zero.
func ComputeBill(items []model.OrderItem, billDiscount model.Discount, taxRate decimal.Decimal, serviceChargeEnabled bool, serviceChargeRate decimal.Decimal) BillTotals {
	t := BillTotals{
		Lines:             make([]LineTotals, 0, len(items)),
		Subtotal:          decimal.Zero,
		ItemDiscountTotal: decimal.Zero,
		AfterItemDiscount: decimal.Zero,
	}

	for _, item := range items {
		line := computeLine(item)
		t.Lines = append(t.Lines, line)
		t.Subtotal = t.Subtotal.Add(line.Subtotal)
		t.ItemDiscountTotal = t.ItemDiscountTotal.Add(line.DiscountAmount)
		t.AfterItemDiscount = t.AfterItemDiscount.Add(line.Total)
	}

	t.BillDiscountAmount = discountOn(t.AfterItemDiscount, billDiscount)
	t.TaxableBase = nonNegative(t.AfterItemDiscount.Sub(t.BillDiscountAmount))
	t.Tax = t.TaxableBase.Mul(nonNegative(taxRate))

	t.ServiceCharge = decimal.Zero
	if serviceChargeEnabled {
		t.ServiceCharge = t.TaxableBase.Mul(nonNegative(serviceChargeRate))
	}

	t.GrandTotal = t.TaxableBase.Add(t.Tax).Add(t.ServiceCharge)
	return t
}

// ForBill computes the totals of bill over the items of its order.
func ForBill(o model.Order, b model.Bill) BillTotals {
	return ComputeBill(o.Items, b.BillDiscount, b.TaxRate, b.ServiceChargeEnabled, b.ServiceChargeRate)
}

// ChangeDue is what a cashier hands back for a cash payment.
func ChangeDue(received, total decimal.Decimal) decimal.Decimal {
	return nonNegative(received.Sub(total))
}

func computeLine(item model.OrderItem) LineTotals {
	qty := int64(item.Quantity)
	if qty < 1 {
		qty = 0
	}
	subtotal := nonNegative(item.UnitPrice).Mul(decimal.NewFromInt(qty))
	discount := discountOn(subtotal, item.LineDiscount)
	return LineTotals{
		ItemID:         item.ID,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
	}
}

// discountOn returns the discount amount for base, capped at base.
func discountOn(base decimal.Decimal, d model.Discount) decimal.Decimal {
	value := nonNegative(d.Value)
	if value.IsZero() || !base.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch d.Mode {
	case model.DiscountPercent:
		amount = base.Mul(value).Div(hundred)
	case model.DiscountFlat:
		amount = value
	default:
		return decimal.Zero
	}
	return decimal.Min(base, amount)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Rounded returns a copy with every amount rounded to two places.
func (t BillTotals) Rounded() BillTotals {
	r := BillTotals{
		Lines:              make([]LineTotals, len(t.Lines)),
		Subtotal:           t.Subtotal.Round(2),
		ItemDiscountTotal:  t.ItemDiscountTotal.Round(2),
		AfterItemDiscount:  t.AfterItemDiscount.Round(2),
		BillDiscountAmount: t.BillDiscountAmount.Round(2),
		TaxableBase:        t.TaxableBase.Round(2),
		Tax:                t.Tax.Round(2),
		ServiceCharge:      t.ServiceCharge.Round(2),
		GrandTotal:         t.GrandTotal.Round(2),
	}
	for i, l := range t.Lines {
		r.Lines[i] = LineTotals{
			ItemID:         l.ItemID,
			Subtotal:       l.Subtotal.Round(2),
			DiscountAmount: l.DiscountAmount.Round(2),
			Total:          l.Total.Round(2),
		}
	}
	return r
}

// FixedTotals is the display form of BillTotals.
type FixedTotals struct {
	Subtotal           string `json:"subtotal"`
	ItemDiscountTotal  string `json:"item_discount_total"`
	BillDiscountAmount string `json:"bill_discount_amount"`
	TaxableBase        string `json:"taxable_base"`
	Tax                string `json:"tax"`
	ServiceCharge      string `json:"service_charge"`
	GrandTotal         string `json:"grand_total"`
}

// Fixed formats the totals with exactly two decimal places.
func (t BillTotals) Fixed() FixedTotals {
	return FixedTotals{
		Subtotal:           t.Subtotal.StringFixed(2),
		ItemDiscountTotal:  t.ItemDiscountTotal.StringFixed(2),
		BillDiscountAmount: t.BillDiscountAmount.StringFixed(2),
		TaxableBase:        t.TaxableBase.StringFixed(2),
		Tax:                t.Tax.StringFixed(2),
		ServiceCharge:      t.ServiceCharge.StringFixed(2),
		GrandTotal:         t.GrandTotal.StringFixed(2),
	}
}
