/*
snapshot.go - Pre-loaded input state for one recomputation pass

PURPOSE:
  The engine performs no I/O. The persistence collaborator loads every
  record the engine could need into a Snapshot, and the engine derives
  availability and totals from it. A caller discards a stale computation
  and re-invokes with a fresh snapshot; there is no cancellation semantics
  inside the engine itself.

SELF-EXCLUSION:
  When a requisition is re-opened for edit, EditingRequisitionID names it.
  Every scan over payment requests and prior requisitions skips records
  belonging to that requisition, so quantities it previously reserved
  remain fully selectable during the edit.

SEE ALSO:
  - ledger.go: Consumes the snapshot to compute availability
  - store.go:  The collaborator interface that produces snapshots
*/
package settlement

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot is the complete input to one synchronous recomputation pass.
// All collections belong to the same contract.
type Snapshot struct {
	Contract Contract
	Items    []CatalogLineItem

	// Amendments in any status; the engine filters to effective ones and
	// orders them chronologically itself.
	Amendments []Amendment

	// Requisitions holds every requisition for the contract, including
	// the one under edit (if any).
	Requisitions []Requisition

	// PaymentRequests holds every payment request for the contract, with
	// each request's full concept breakdown.
	PaymentRequests []PaymentRequest

	// EditingRequisitionID is the requisition being edited, or empty when
	// drafting a new one.
	EditingRequisitionID RequisitionID
}

// EffectiveAmendments returns amendments that affect the ledger, in
// ascending chronological order. The slice is freshly allocated; the
// snapshot is never mutated.
func (s Snapshot) EffectiveAmendments() []Amendment {
	out := make([]Amendment, 0, len(s.Amendments))
	for _, a := range s.Amendments {
		if a.Effective() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveAt.Before(out[j].EffectiveAt)
	})
	return out
}

// EffectiveContractAmount is the contract amount after amendments:
// base + applied additive + applied deductive (negative) + approved extra.
// Additive/deductive/extra amounts are stored as positive magnitudes.
func (s Snapshot) EffectiveContractAmount() decimal.Decimal {
	total := s.Contract.BaseAmount
	for _, a := range s.EffectiveAmendments() {
		switch a.Kind {
		case AmendmentAdditive, AmendmentExtra:
			total = total.Add(a.Amount)
		case AmendmentDeductive:
			total = total.Sub(a.Amount)
		}
	}
	return total
}

// OtherPaymentRequests returns payment requests that count as consumption:
// everything except those issued for the requisition under edit.
func (s Snapshot) OtherPaymentRequests() []PaymentRequest {
	out := make([]PaymentRequest, 0, len(s.PaymentRequests))
	for _, pr := range s.PaymentRequests {
		if s.EditingRequisitionID != "" && pr.RequisitionID == s.EditingRequisitionID {
			continue
		}
		out = append(out, pr)
	}
	return out
}

// OtherRequisitions returns requisitions excluding the one under edit.
func (s Snapshot) OtherRequisitions() []Requisition {
	out := make([]Requisition, 0, len(s.Requisitions))
	for _, r := range s.Requisitions {
		if s.EditingRequisitionID != "" && r.ID == s.EditingRequisitionID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Item looks up a catalog line item by ID.
func (s Snapshot) Item(id LineItemID) (CatalogLineItem, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return CatalogLineItem{}, false
}

// Amendment looks up an amendment by ID.
func (s Snapshot) Amendment(id AmendmentID) (Amendment, bool) {
	for _, a := range s.Amendments {
		if a.ID == id {
			return a, true
		}
	}
	return Amendment{}, false
}
