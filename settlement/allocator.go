/*
allocator.go - Amortization and retention allocation across selected concepts

PURPOSE:
  On every selection change, recomputes the per-concept advance
  amortization and guarantee-fund retention for the concepts currently
  selected in a requisition, then aggregates them.

KEY RULES:
  - Retention per concept = amount x (retention percent / 100), floored at
    zero. The AGGREGATE figure is the sum of per-concept retentions, never
    "aggregate amount x percent": the contract total may have been moved by
    amendments, and the sum stays stable under partial selection.
  - Amortization per concept = amount x advance ratio, where the ratio is
    advance amount over the CURRENT effective contract amount (base plus
    applied additive, minus applied deductive, plus approved extra).
  - Summed amortization is capped at the disposable advance balance. When
    the cap binds, auto-managed per-concept amortizations are scaled down
    pro rata so their sum still matches the persisted aggregate; manual
    pins are never rescaled.
  - Advance, special-deduction, and retention concepts contribute zero:
    amortization is never applied to itself, and deductions/retentions are
    not re-amortized or re-retained.
  - Both per-concept fields are auto-managed UNLESS the user pinned them
    (DerivedField.Source == manual). Recomputation never clobbers a pin.

SEE ALSO:
  - ledger.go: Supplies DisposableAdvance for the cap
  - totals.go: Combines the aggregates into subtotal/tax/total
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// ALLOCATION RESULT
// =============================================================================

// Allocation is the outcome of one allocation pass.
type Allocation struct {
	// Concepts is the selection with per-concept derived fields refreshed.
	// Manual fields pass through untouched.
	Concepts []Concept

	// AdvanceRatio = advance amount / effective contract amount.
	AdvanceRatio decimal.Decimal

	// Amortization is the aggregate, after the disposable-advance cap.
	Amortization decimal.Decimal

	// AmortizationUncapped is the raw sum before the cap, kept for display.
	AmortizationUncapped decimal.Decimal
	AmortizationCapped   bool

	// Retention is the aggregate guarantee-fund withholding (positive).
	Retention decimal.Decimal
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocate recomputes derived fields for the selection. Pure: the input
// slice is not mutated, a refreshed copy is returned.
func Allocate(snap Snapshot, view *LedgerView, concepts []Concept) Allocation {
	ratio := advanceRatio(snap)

	out := Allocation{
		Concepts:     make([]Concept, len(concepts)),
		AdvanceRatio: ratio,
	}

	for i, c := range concepts {
		if c.Kind != ConceptNormal || c.Normal == nil {
			// Advance, deductions and retentions are never amortized or
			// retained against.
			out.Concepts[i] = c
			continue
		}

		n := *c.Normal
		n.Amount = RoundMoney(n.Quantity.Mul(n.UnitPrice))

		if !n.Retention.IsManual() {
			n.Retention = Auto(RoundMoney(FloorZero(Percent(n.Amount, snap.Contract.RetentionPercent))))
		}
		if !n.Amortization.IsManual() {
			n.Amortization = Auto(RoundMoney(n.Amount.Mul(ratio)))
		}

		out.Retention = out.Retention.Add(n.Retention.Value)
		out.AmortizationUncapped = out.AmortizationUncapped.Add(n.Amortization.Value)

		c.Normal = &n
		out.Concepts[i] = c
	}

	// Cap the summed amortization at the dynamically shrinking disposable
	// advance balance.
	out.Amortization = out.AmortizationUncapped
	if out.Amortization.GreaterThan(view.DisposableAdvance) {
		out.Amortization = view.DisposableAdvance
		out.AmortizationCapped = true
		scaleAutoAmortization(out.Concepts, view.DisposableAdvance)
	}

	return out
}

// scaleAutoAmortization shrinks auto-managed per-concept amortizations
// pro rata so that, together with any manual pins, they sum to the
// capped aggregate. The last auto concept absorbs the rounding
// remainder, keeping the persisted per-concept figures exact. Manual
// pins pass through untouched even when they alone exceed the cap.
func scaleAutoAmortization(concepts []Concept, cap decimal.Decimal) {
	var autos []*NormalConcept
	manual := decimal.Zero
	autoSum := decimal.Zero

	for _, c := range concepts {
		if c.Kind != ConceptNormal || c.Normal == nil {
			continue
		}
		if c.Normal.Amortization.IsManual() {
			manual = manual.Add(c.Normal.Amortization.Value)
			continue
		}
		autos = append(autos, c.Normal)
		autoSum = autoSum.Add(c.Normal.Amortization.Value)
	}
	if len(autos) == 0 || !autoSum.IsPositive() {
		return
	}

	target := FloorZero(cap.Sub(manual))
	assigned := decimal.Zero
	for i, n := range autos {
		if i == len(autos)-1 {
			n.Amortization = Auto(target.Sub(assigned))
			break
		}
		share := RoundMoney(n.Amortization.Value.Mul(target).Div(autoSum))
		if remaining := target.Sub(assigned); share.GreaterThan(remaining) {
			share = remaining
		}
		n.Amortization = Auto(share)
		assigned = assigned.Add(share)
	}
}

// advanceRatio guards against contracts whose effective amount has been
// amended down to zero; amortizing against those would divide by zero.
func advanceRatio(snap Snapshot) decimal.Decimal {
	effective := snap.EffectiveContractAmount()
	if effective.IsZero() || effective.IsNegative() {
		return decimal.Zero
	}
	return snap.Contract.AdvanceAmount.Div(effective)
}
