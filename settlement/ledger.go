/*
ledger.go - Consumption ledger: what is still available, right now

PURPOSE:
  Computes the current quantity and monetary ceiling of every catalog line
  item, one-time deduction, retention unit, and the advance pool, from a
  contract snapshot. This is the central calculation that answers "how much
  of this contract is left to claim?"

ALGORITHM:
  1. Each line item starts at its original catalog quantity.
  2. Additive/deductive amendments replay in ascending chronological order;
     each (line item, new quantity) pair OVERWRITES the current quantity.
     Last writer wins per line item - deltas never accumulate.
  3. Every payment request NOT belonging to the requisition under edit adds
     its normal concepts' quantities to the item's consumption total.
  4. Available = max(0, current - consumption). Zero available means the
     item is locked for new selection; self-exclusion in step 3 keeps it
     editable from within the requisition that reserved it.
  5. A special deduction is locked once ANY other payment request
     references it; otherwise it is available for exactly one selection.
  6. Retention units get their lifecycle state from retention.go, derived
     by scanning the same payment requests.
  7. Disposable advance = advance amount - amortization recorded on other
     requisitions, floored at zero.

FAILURE SEMANTICS:
  Never returns an error. Unknown or missing references degrade to
  locked/unavailable - upstream data loading is the persistence
  collaborator's responsibility, not ours.

SEE ALSO:
  - retention.go: Lifecycle state used in step 6
  - allocator.go: Consumes DisposableAdvance for the amortization cap
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// LEDGER VIEW - Availability output, per pool
// =============================================================================

// LineItemAvailability is the per-item row of the availability table.
type LineItemAvailability struct {
	LineItemID  LineItemID
	Code        string
	Description string
	Unit        string
	UnitPrice   decimal.Decimal

	// OriginalQuantity vs CurrentQuantity: shown side by side when the
	// item has been amended.
	OriginalQuantity decimal.Decimal
	CurrentQuantity  decimal.Decimal
	Amended          bool

	Consumed  decimal.Decimal
	Available decimal.Decimal

	// Locked means not selectable for a NEW requisition. An item the
	// in-progress requisition already holds stays editable because its
	// own consumption was excluded from the scan.
	Locked bool
}

// DeductionAvailability reports whether a one-time deduction can still
// be taken.
type DeductionAvailability struct {
	AmendmentID AmendmentID
	Amount      decimal.Decimal
	Locked      bool
}

// RetentionUnit is a retention amendment with its derived lifecycle state.
type RetentionUnit struct {
	AmendmentID AmendmentID

	// Ceiling is the unit's fixed monetary cap.
	Ceiling decimal.Decimal

	// Withheld and Returned are derived by scanning payment requests,
	// excluding the requisition under edit.
	Withheld decimal.Decimal
	Returned decimal.Decimal

	// Disposable = ceiling - withheld. A return does not restore it.
	Disposable decimal.Decimal

	Status RetentionStatus
	Locked bool
}

// LedgerView is the full availability table handed to the UI collaborator
// and consumed by the allocator and validator.
type LedgerView struct {
	ContractID ContractID

	Items      []LineItemAvailability
	Deductions []DeductionAvailability
	Retentions []RetentionUnit

	// DisposableAdvance is what remains of the advance pool after
	// amortization recorded on other requisitions.
	DisposableAdvance decimal.Decimal

	itemIndex      map[LineItemID]int
	deductionIndex map[AmendmentID]int
	retentionIndex map[AmendmentID]int
}

// Item returns the availability row for a line item. ok is false for
// unknown references, which callers must treat as unavailable.
func (v *LedgerView) Item(id LineItemID) (LineItemAvailability, bool) {
	i, ok := v.itemIndex[id]
	if !ok {
		return LineItemAvailability{}, false
	}
	return v.Items[i], true
}

// Deduction returns the availability row for a special deduction.
func (v *LedgerView) Deduction(id AmendmentID) (DeductionAvailability, bool) {
	i, ok := v.deductionIndex[id]
	if !ok {
		return DeductionAvailability{}, false
	}
	return v.Deductions[i], true
}

// Retention returns the lifecycle row for a retention unit.
func (v *LedgerView) Retention(id AmendmentID) (RetentionUnit, bool) {
	i, ok := v.retentionIndex[id]
	if !ok {
		return RetentionUnit{}, false
	}
	return v.Retentions[i], true
}

// =============================================================================
// LEDGER COMPUTATION
// =============================================================================

// ComputeLedger derives the availability of every pool in the snapshot.
// Pure and deterministic: same snapshot, same view.
func ComputeLedger(snap Snapshot) *LedgerView {
	view := &LedgerView{
		ContractID:     snap.Contract.ID,
		itemIndex:      make(map[LineItemID]int, len(snap.Items)),
		deductionIndex: make(map[AmendmentID]int),
		retentionIndex: make(map[AmendmentID]int),
	}

	effective := snap.EffectiveAmendments()
	others := snap.OtherPaymentRequests()

	// Steps 1-2: current quantities via chronological amendment replay.
	current := make(map[LineItemID]decimal.Decimal, len(snap.Items))
	for _, it := range snap.Items {
		current[it.ID] = it.OriginalQuantity
	}
	for _, a := range effective {
		if a.Kind != AmendmentAdditive && a.Kind != AmendmentDeductive {
			continue
		}
		for _, ch := range a.Changes {
			if _, known := current[ch.LineItemID]; !known {
				// Reference to an item outside the snapshot: ignore.
				continue
			}
			current[ch.LineItemID] = ch.NewQuantity
		}
	}

	// Step 3: consumption from other requisitions' payment requests.
	consumed := make(map[LineItemID]decimal.Decimal, len(snap.Items))
	deductionUsed := make(map[AmendmentID]bool)
	for _, pr := range others {
		for _, c := range pr.Concepts {
			switch c.Kind {
			case ConceptNormal:
				if c.Normal == nil {
					continue
				}
				consumed[c.Normal.LineItemID] = consumed[c.Normal.LineItemID].Add(c.Normal.Quantity)
			case ConceptSpecialDeduction:
				if c.Deduction == nil {
					continue
				}
				deductionUsed[c.Deduction.AmendmentID] = true
			}
		}
	}

	// Step 4: availability rows.
	for _, it := range snap.Items {
		cur := current[it.ID]
		avail := FloorZero(cur.Sub(consumed[it.ID]))
		row := LineItemAvailability{
			LineItemID:       it.ID,
			Code:             it.Code,
			Description:      it.Description,
			Unit:             it.Unit,
			UnitPrice:        it.UnitPrice,
			OriginalQuantity: it.OriginalQuantity,
			CurrentQuantity:  cur,
			Amended:          !cur.Equal(it.OriginalQuantity),
			Consumed:         consumed[it.ID],
			Available:        avail,
			Locked:           avail.IsZero(),
		}
		view.itemIndex[it.ID] = len(view.Items)
		view.Items = append(view.Items, row)
	}

	// Steps 5-6: deduction and retention pools.
	for _, a := range effective {
		switch a.Kind {
		case AmendmentSpecialDeduction:
			row := DeductionAvailability{
				AmendmentID: a.ID,
				Amount:      a.Amount,
				Locked:      deductionUsed[a.ID],
			}
			view.deductionIndex[a.ID] = len(view.Deductions)
			view.Deductions = append(view.Deductions, row)
		case AmendmentRetention:
			unit := deriveRetentionUnit(a, others)
			view.retentionIndex[a.ID] = len(view.Retentions)
			view.Retentions = append(view.Retentions, unit)
		}
	}

	// Step 7: disposable advance pool.
	amortized := decimal.Zero
	for _, r := range snap.OtherRequisitions() {
		amortized = amortized.Add(r.Amortization)
	}
	view.DisposableAdvance = FloorZero(snap.Contract.AdvanceAmount.Sub(amortized))

	return view
}
