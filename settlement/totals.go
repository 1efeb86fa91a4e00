/*
totals.go - Requisition totals and the pre-save validation gate

PURPOSE:
  Combines the concept selection, the allocated amortization/retention and
  the tax election into the numbers shown and saved:

    base       = sum of normal concept amounts
    advance    = sum of advance concept amounts
    deductions = sum of special-deduction amounts, as positive magnitude
    retNet     = retention-unit apply (negative) + return (positive)
    subtotal   = base + advance - amortization - retention - deductions + retNet
    tax        = tax-inclusive ? subtotal x 0.16 : 0
    total      = subtotal + tax

  Subtotal, tax and total are each rounded to 2 decimal places
  INDEPENDENTLY before being combined, to match what is persisted. A
  consistency check verifies |total - (subtotal + tax)| < 0.05; violation
  is a logged warning, never a hard failure, because independent rounding
  legitimately introduces sub-cent drift.

  A subtotal may legitimately be negative when only deductions or a
  retention return are selected. A negative TOTAL blocks submission.

VALIDATION (hard failures, block save):
  - at least one concept selected
  - every normal concept quantity > 0
  - no normal concept quantity exceeds its available quantity
  - quantities claimed from one line item fit availability in aggregate,
    not just concept by concept
  - each special deduction elected at most once
  - total >= 0

  All hard failures are detected here, before any mutation is attempted.
  The assembler assumes it runs only after this gate passes.

SEE ALSO:
  - allocator.go: Produces the amortization/retention aggregates
  - assembler.go: Runs strictly after validation succeeds
*/
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TOTALS
// =============================================================================

// Totals is the financial breakdown of a requisition as persisted.
type Totals struct {
	BaseAmount      decimal.Decimal
	AdvancePayout   decimal.Decimal
	Amortization    decimal.Decimal
	Retention       decimal.Decimal
	OtherDeductions decimal.Decimal
	RetentionHeld   decimal.Decimal // negative or zero
	RetentionFreed  decimal.Decimal // positive or zero
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal

	// Warning is non-nil when total drifted from subtotal+tax beyond the
	// tolerance. A data-quality signal for investigation, not an error.
	Warning *ConsistencyWarning
}

// ConsistencyWarning records a sub-cent drift beyond tolerance.
type ConsistencyWarning struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Drift    decimal.Decimal
}

func (w *ConsistencyWarning) String() string {
	return fmt.Sprintf("total %s drifts from subtotal %s + tax %s by %s",
		w.Total, w.Subtotal, w.Tax, w.Drift)
}

// ComputeTotals combines the selection with the allocation aggregates.
// taxInclusive selects whether tax is assessed on the subtotal.
func ComputeTotals(concepts []Concept, alloc Allocation, taxInclusive bool) Totals {
	t := Totals{Amortization: alloc.Amortization, Retention: alloc.Retention}

	for _, c := range concepts {
		switch c.Kind {
		case ConceptNormal:
			t.BaseAmount = t.BaseAmount.Add(c.Amount())
		case ConceptAdvance:
			t.AdvancePayout = t.AdvancePayout.Add(c.Amount())
		case ConceptSpecialDeduction:
			// Stored negative, summed as positive magnitude.
			t.OtherDeductions = t.OtherDeductions.Add(c.Amount().Neg())
		case ConceptRetention:
			if c.Amount().IsNegative() {
				t.RetentionHeld = t.RetentionHeld.Add(c.Amount())
			} else {
				t.RetentionFreed = t.RetentionFreed.Add(c.Amount())
			}
		}
	}

	retentionNet := t.RetentionHeld.Add(t.RetentionFreed)

	t.Subtotal = RoundMoney(t.BaseAmount.
		Add(t.AdvancePayout).
		Sub(t.Amortization).
		Sub(t.Retention).
		Sub(t.OtherDeductions).
		Add(retentionNet))

	if taxInclusive {
		t.Tax = RoundMoney(t.Subtotal.Mul(TaxRate))
	}

	t.Total = RoundMoney(t.Subtotal.Add(t.Tax))

	if drift := t.Total.Sub(t.Subtotal.Add(t.Tax)).Abs(); !drift.LessThan(ConsistencyTolerance) {
		t.Warning = &ConsistencyWarning{Subtotal: t.Subtotal, Tax: t.Tax, Total: t.Total, Drift: drift}
	}

	return t
}

// =============================================================================
// VALIDATION GATE
// =============================================================================

// Validate enforces the pre-save invariants against the availability view.
// Returns nil when the requisition may be saved.
func Validate(view *LedgerView, concepts []Concept, totals Totals) *ValidationErrors {
	errs := &ValidationErrors{}

	if len(concepts) == 0 {
		errs.Add("concepts", "empty_selection", "at least one concept must be selected")
	}

	claimed := make(map[LineItemID]decimal.Decimal)
	splits := make(map[LineItemID]int)
	elected := make(map[AmendmentID]bool)

	for i, c := range concepts {
		field := fmt.Sprintf("concepts[%d]", i)
		switch c.Kind {
		case ConceptNormal:
			if c.Normal == nil {
				errs.Add(field, "malformed", "normal concept has no payload")
				continue
			}
			if !c.Normal.Quantity.IsPositive() {
				errs.Add(field, "quantity_not_positive", "quantity must be greater than zero")
				continue
			}
			row, ok := view.Item(c.Normal.LineItemID)
			if !ok {
				// Unknown reference degrades to unavailable.
				errs.Add(field, "unavailable", "line item is not available")
				continue
			}
			claimed[c.Normal.LineItemID] = claimed[c.Normal.LineItemID].Add(c.Normal.Quantity)
			splits[c.Normal.LineItemID]++
			if c.Normal.Quantity.GreaterThan(row.Available) {
				errs.Add(field, "exceeds_available",
					fmt.Sprintf("quantity %s exceeds available %s", c.Normal.Quantity, row.Available))
			}
		case ConceptSpecialDeduction:
			if c.Deduction == nil {
				errs.Add(field, "malformed", "deduction concept has no payload")
				continue
			}
			if elected[c.Deduction.AmendmentID] {
				errs.Add(field, "deduction_duplicate", "special deduction is already elected in this requisition")
				continue
			}
			elected[c.Deduction.AmendmentID] = true
			row, ok := view.Deduction(c.Deduction.AmendmentID)
			if !ok || row.Locked {
				errs.Add(field, "deduction_unavailable", "special deduction has already been used")
			}
		case ConceptAdvance:
			if c.Advance == nil {
				errs.Add(field, "malformed", "advance concept has no payload")
				continue
			}
			if c.Advance.Amount.GreaterThan(view.DisposableAdvance) {
				errs.Add(field, "exceeds_disposable",
					fmt.Sprintf("advance %s exceeds disposable balance %s", c.Advance.Amount, view.DisposableAdvance))
			}
		}
	}

	// A selection may split one line item across several concepts. Each
	// split passing its own check is not enough: the claims share one
	// availability pool.
	for id, total := range claimed {
		if splits[id] < 2 {
			continue
		}
		if row, ok := view.Item(id); ok && total.GreaterThan(row.Available) {
			errs.Add(fmt.Sprintf("items[%s]", id), "exceeds_available",
				fmt.Sprintf("combined quantity %s exceeds available %s", total, row.Available))
		}
	}

	if totals.Total.IsNegative() {
		errs.Add("total", "negative_total", "total must not be negative")
	}

	if errs.Empty() {
		return nil
	}
	return errs
}
