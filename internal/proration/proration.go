// Package proration spreads a shipment weight across the styles it covers.
// Results are exact to the cent: allocations always sum to the rounded total.
package proration

import (
	"strings"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/shopspring/decimal"
)

var (
	poundsToKilograms = decimal.RequireFromString("0.453592")
	cent              = decimal.New(1, -2)
)

// Share is the quantity of one key (a style, or a PO/line pair) on a PO.
type Share struct {
	Key      string
	Quantity decimal.Decimal
}

// Allocation is the weight assigned to a key.
type Allocation struct {
	Key    string
	Weight decimal.Decimal
}

// CalculateWeight reads the gross weight from TD107 and its unit from TD108.
// Pounds are converted to kilograms and rounded to two places; any other
// unit is returned as sent. ok is false when TD107 is missing, not a number
// or negative.
func CalculateWeight(td1 edi.Segment) (weight decimal.Decimal, ok bool) {
	raw := td1.Element(7)
	if raw == "" {
		return decimal.Zero, false
	}
	w, err := decimal.NewFromString(raw)
	if err != nil || w.IsNegative() {
		return decimal.Zero, false
	}
	switch strings.ToUpper(td1.Element(8)) {
	case "LB", "LBR", "LBS":
		return w.Mul(poundsToKilograms).Round(2), true
	}
	return w, true
}

// Prorate splits total across shares in proportion to their quantities.
//
// Each share first gets unit weight times quantity truncated to the cent.
// The shortfall against the total (rounded to the cent) is then handed out
// one cent at a time, cycling through the shares with a positive quantity in
// input order, so the result is deterministic and sums exactly to the total.
// A negative total is split as its magnitude and negated. A zero total
// quantity yields no allocations.
func Prorate(total decimal.Decimal, shares []Share) []Allocation {
	if total.IsNegative() {
		allocations := Prorate(total.Neg(), shares)
		for i := range allocations {
			allocations[i].Weight = allocations[i].Weight.Neg()
		}
		return allocations
	}

	totalQty := decimal.Zero
	for _, s := range shares {
		if s.Quantity.IsPositive() {
			totalQty = totalQty.Add(s.Quantity)
		}
	}
	if !totalQty.IsPositive() {
		return nil
	}

	total = total.Round(2)
	unit := total.Div(totalQty)

	allocations := make([]Allocation, len(shares))
	var receivers []int
	allocated := decimal.Zero
	for i, s := range shares {
		w := decimal.Zero
		if s.Quantity.IsPositive() {
			w = unit.Mul(s.Quantity).Truncate(2)
			receivers = append(receivers, i)
		}
		allocations[i] = Allocation{Key: s.Key, Weight: w}
		allocated = allocated.Add(w)
	}

	remaining := total.Sub(allocated)
	for i := 0; remaining.GreaterThanOrEqual(cent); i++ {
		idx := receivers[i%len(receivers)]
		allocations[idx].Weight = allocations[idx].Weight.Add(cent)
		remaining = remaining.Sub(cent)
	}
	return allocations
}

// AllocatePO assigns a PO-level weight to the keys shipped on that PO. A
// single key takes the whole weight unchanged; several keys are prorated by
// quantity.
func AllocatePO(weight decimal.Decimal, shares []Share) []Allocation {
	switch len(shares) {
	case 0:
		return nil
	case 1:
		return []Allocation{{Key: shares[0].Key, Weight: weight}}
	}
	return Prorate(weight, shares)
}

// Sum adds up allocated weights.
func Sum(allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Weight)
	}
	return total
}
