/*
assembler.go - Final persisted shape and ledger-mutation instructions

PURPOSE:
  Once validation has passed, produces what the persistence collaborator
  must write: the final concept list (normal concepts, then one synthetic
  concept per elected special deduction, then the retention concept if a
  unit action is part of this save) and the zero-or-one retention counter
  mutation that must commit ATOMICALLY with the requisition.

ATOMICITY:
  The mutation increments the retention unit's cumulative-applied or
  cumulative-returned counter; its disposable balance is always
  ceiling - cumulative applied. A return never restores disposable
  balance - once withheld-and-returned the unit is exhausted, not
  recycled. Saving the requisition without the counter update (or the
  reverse) is a correctness-breaking failure the store must prevent; see
  store/sqlite, which commits both in one transaction under a version
  check.

  The assembler does not re-validate. It assumes it is only ever invoked
  after Validate returned nil.

SEE ALSO:
  - totals.go:   The validation gate that precedes assembly
  - store.go:    SaveRequisition takes the Assembly output
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// LEDGER MUTATION - Side effect handed to the persistence collaborator
// =============================================================================

// LedgerMutation instructs the store to move a retention unit's cumulative
// counters. Amount is signed exactly as the concept that caused it:
// negative for apply, positive for return.
type LedgerMutation struct {
	AmendmentID AmendmentID
	Action      RetentionAction
	Amount      decimal.Decimal

	// ExpectedVersion is the amendment version the snapshot was computed
	// from; the store rejects the commit when it has moved.
	ExpectedVersion int64
}

// ApplyTo moves the counters on an amendment record. The store calls this
// inside its transaction after the version check passed.
func (m LedgerMutation) ApplyTo(a *Amendment) {
	switch m.Action {
	case RetentionApply:
		a.AppliedTotal = a.AppliedTotal.Add(m.Amount.Neg())
	case RetentionReturn:
		a.ReturnedTotal = a.ReturnedTotal.Add(m.Amount)
	}
	a.Version++
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// Assembly is everything the save must persist.
type Assembly struct {
	Concepts []Concept

	// Mutation is nil unless a retention action is part of this save.
	Mutation *LedgerMutation
}

// Assemble orders the concept list for persistence and derives the
// retention mutation. Concepts arrive already computed and validated.
func Assemble(snap Snapshot, concepts []Concept) Assembly {
	var (
		normals    []Concept
		advances   []Concept
		deductions []Concept
		retentions []Concept
	)

	for _, c := range concepts {
		switch c.Kind {
		case ConceptNormal:
			normals = append(normals, c)
		case ConceptAdvance:
			advances = append(advances, c)
		case ConceptSpecialDeduction:
			deductions = append(deductions, c)
		case ConceptRetention:
			retentions = append(retentions, c)
		}
	}

	out := Assembly{}
	out.Concepts = append(out.Concepts, normals...)
	out.Concepts = append(out.Concepts, advances...)
	out.Concepts = append(out.Concepts, deductions...)
	out.Concepts = append(out.Concepts, retentions...)

	// At most one retention unit is active per requisition; a second one
	// would have been refused upstream.
	for _, c := range retentions {
		if c.Retention == nil || c.Retention.Amount.IsZero() {
			continue
		}
		expected := int64(0)
		if a, ok := snap.Amendment(c.Retention.AmendmentID); ok {
			expected = a.Version
		}
		out.Mutation = &LedgerMutation{
			AmendmentID:     c.Retention.AmendmentID,
			Action:          c.Retention.Action,
			Amount:          c.Retention.Amount,
			ExpectedVersion: expected,
		}
		break
	}

	return out
}
