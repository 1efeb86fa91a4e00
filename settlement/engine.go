/*
engine.go - The synchronous recomputation pass

PURPOSE:
  The single entry point the collaborators call. Every concept-selection
  change triggers one immediate, deterministic, side-effect-free pass:

    selections -> availability (ledger.go)
               -> concept construction
               -> allocation (allocator.go)
               -> totals + validation (totals.go)

  There is no suspension or partial-result state mid-pass; a stale result
  is simply discarded and the pass re-run on a fresh snapshot.

SELECTION MODEL:
  The UI hands over WHAT the user picked, not computed records: line item
  quantities (with optional manual pins for the two derived fields),
  elected special deductions, at most one retention unit action, and the
  advance payout election. The engine constructs the concept records
  itself so every derived number comes from exactly one code path.

ILLEGAL RETENTION ACTIONS:
  Silently refused: the concept is simply not built (see retention.go).
  The UI only ever offers legal actions, so an illegal selection means the
  snapshot went stale, and the recomputed result shows the unit's real
  options.

SEE ALSO:
  - snapshot.go: The input
  - assembler.go: Finalize runs it after the validation gate passes
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// SELECTION - What the user picked
// =============================================================================

// ItemSelection claims a quantity from one catalog line item. The two
// manual pointers pin the derived fields; nil keeps them auto-managed.
type ItemSelection struct {
	LineItemID         LineItemID
	Quantity           decimal.Decimal
	ManualAmortization *decimal.Decimal
	ManualRetention    *decimal.Decimal
}

// RetentionSelection activates one retention unit. An empty Action asks
// for the unit's deterministic default; a zero Volume means 1.
type RetentionSelection struct {
	AmendmentID AmendmentID
	Action      RetentionAction
	Volume      decimal.Decimal
}

// Selection is the complete user input for one pass.
type Selection struct {
	Items []ItemSelection

	// IncludeAdvance adds the synthetic advance-payout singleton.
	// AdvanceAmount limits it; nil pays out the full disposable balance.
	IncludeAdvance bool
	AdvanceAmount  *decimal.Decimal

	DeductionIDs []AmendmentID

	// Retention is the at-most-one active retention unit.
	Retention *RetentionSelection

	// TaxInclusive overrides the contract's tax treatment; nil inherits.
	TaxInclusive *bool
}

// =============================================================================
// RESULT - Everything the UI needs after one pass
// =============================================================================

// RetentionOptions tells the UI what the active retention unit permits.
type RetentionOptions struct {
	Unit       RetentionUnit
	Legal      []RetentionAction
	Default    RetentionAction
	HasDefault bool
}

// Result is the outcome of one recomputation pass.
type Result struct {
	View       *LedgerView
	Concepts   []Concept
	Allocation Allocation
	Totals     Totals

	// Validation is nil when the requisition may be saved.
	Validation *ValidationErrors

	// RetentionOptions is nil when no retention unit is selected.
	RetentionOptions *RetentionOptions

	TaxInclusive bool
}

// Valid reports whether the save gate is open.
func (r Result) Valid() bool { return r.Validation == nil }

// ApplyTo writes the computed concepts and totals onto a requisition.
func (r Result) ApplyTo(req *Requisition) {
	req.Concepts = r.Concepts
	req.TaxInclusive = r.TaxInclusive
	req.BaseAmount = r.Totals.BaseAmount
	req.Amortization = r.Totals.Amortization
	req.Retention = r.Totals.Retention
	req.OtherDeductions = r.Totals.OtherDeductions
	req.RetentionHeld = r.Totals.RetentionHeld
	req.RetentionFreed = r.Totals.RetentionFreed
	req.Subtotal = r.Totals.Subtotal
	req.Tax = r.Totals.Tax
	req.Total = r.Totals.Total
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs recomputation passes. Stateless; the zero value is ready.
type Engine struct{}

// Recompute runs one full pass. Never returns an error: data problems
// degrade to locked/unavailable rows and validation failures.
func (e Engine) Recompute(snap Snapshot, sel Selection) Result {
	view := ComputeLedger(snap)

	taxInclusive := snap.Contract.TaxInclusive
	if sel.TaxInclusive != nil {
		taxInclusive = *sel.TaxInclusive
	}

	concepts, retOpts := e.buildConcepts(snap, view, sel)
	alloc := Allocate(snap, view, concepts)
	totals := ComputeTotals(alloc.Concepts, alloc, taxInclusive)

	return Result{
		View:             view,
		Concepts:         alloc.Concepts,
		Allocation:       alloc,
		Totals:           totals,
		Validation:       Validate(view, alloc.Concepts, totals),
		RetentionOptions: retOpts,
		TaxInclusive:     taxInclusive,
	}
}

// Finalize runs a pass and, when the validation gate passes, assembles
// the persisted shape. The returned error is the field-keyed validation
// set when the gate is closed.
func (e Engine) Finalize(snap Snapshot, sel Selection) (Result, Assembly, error) {
	result := e.Recompute(snap, sel)
	if result.Validation != nil {
		return result, Assembly{}, result.Validation
	}
	return result, Assemble(snap, result.Concepts), nil
}

// buildConcepts constructs concept records from the raw selection.
func (e Engine) buildConcepts(snap Snapshot, view *LedgerView, sel Selection) ([]Concept, *RetentionOptions) {
	var concepts []Concept

	for _, is := range sel.Items {
		n := NormalConcept{
			LineItemID: is.LineItemID,
			Quantity:   is.Quantity,
		}
		if row, ok := view.Item(is.LineItemID); ok {
			n.Description = row.Description
			n.Unit = row.Unit
			n.UnitPrice = row.UnitPrice
		}
		if is.ManualAmortization != nil {
			n.Amortization = Manual(*is.ManualAmortization)
		}
		if is.ManualRetention != nil {
			n.Retention = Manual(*is.ManualRetention)
		}
		concepts = append(concepts, Concept{Kind: ConceptNormal, Normal: &n})
	}

	if sel.IncludeAdvance {
		amount := view.DisposableAdvance
		if sel.AdvanceAmount != nil && sel.AdvanceAmount.LessThan(amount) {
			amount = *sel.AdvanceAmount
		}
		concepts = append(concepts, Concept{Kind: ConceptAdvance, Advance: &AdvanceConcept{Amount: amount}})
	}

	for _, id := range sel.DeductionIDs {
		d := DeductionConcept{AmendmentID: id, Unit: "lump-sum"}
		if a, ok := snap.Amendment(id); ok {
			d.Amount = a.Amount.Neg()
		}
		concepts = append(concepts, Concept{Kind: ConceptSpecialDeduction, Deduction: &d})
	}

	var retOpts *RetentionOptions
	if sel.Retention != nil {
		unit, ok := view.Retention(sel.Retention.AmendmentID)
		if ok {
			def, hasDef := unit.DefaultAction()
			retOpts = &RetentionOptions{
				Unit:       unit,
				Legal:      unit.LegalActions(),
				Default:    def,
				HasDefault: hasDef,
			}

			action := sel.Retention.Action
			if action == "" {
				action = def
			}
			volume := sel.Retention.Volume
			if volume.IsZero() {
				volume = decimal.NewFromInt(1)
			}
			// Keep the persisted volume in step with what Quote charges.
			volume = clampVolume(volume)

			// Illegal actions quote zero and are silently dropped.
			if unitPrice, amount := unit.Quote(action, volume); !amount.IsZero() {
				concepts = append(concepts, Concept{
					Kind: ConceptRetention,
					Retention: &RetentionConcept{
						AmendmentID: sel.Retention.AmendmentID,
						Action:      action,
						Volume:      volume,
						UnitPrice:   unitPrice,
						Amount:      amount,
					},
				})
			}
		}
	}

	return concepts, retOpts
}
