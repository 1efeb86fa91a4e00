/*
Package settlement implements the contract settlement engine.

PURPOSE:
  This package contains the types and algorithms that decide, at any point
  in time, how much of each limited contract resource remains available
  (catalog quantities, one-time deductions, the advance-payment pool, the
  retention pool) and that compute the financial breakdown of a requisition
  being drafted or edited (subtotal, amortization, retention, tax, total).

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract:        The agreement whose pools are being consumed
  - CatalogLineItem: A payable unit of work with a quantity ceiling
  - Amendment:       A contract modification (quantity change, extra work,
                     one-time deduction, retention unit)
  - Requisition:     A draft payment claim listing selected concepts
  - Concept:         One line inside a requisition (tagged union)
  - PaymentRequest:  The formalized record of actual consumption
  - DerivedField:    An auto-computed value with a manual-override source

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money and quantities
  2. Purity: These types are snapshots; the engine never does I/O
  3. Derivation: Current quantities, retention states, and totals are
     always computed from records, never trusted from a cached field
  4. Type Safety: Strong typing for IDs prevents mixing contract/item IDs

USAGE:
  snap := settlement.Snapshot{Contract: c, Items: items, ...}
  view := settlement.ComputeLedger(snap)
  result := settlement.Engine{}.Recompute(snap, selection)

SEE ALSO:
  - ledger.go:    Availability computation (consumption ledger)
  - retention.go: Retention unit lifecycle
  - allocator.go: Amortization and retention allocation
  - totals.go:    Subtotal/tax/total and validation
  - assembler.go: Persisted concept list and ledger mutations
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type LineItemID string
type AmendmentID string
type RequisitionID string
type PaymentRequestID string

// =============================================================================
// CONTRACT - The agreement whose pools are consumed
// =============================================================================

// Contract is the long-lived aggregate every other record hangs off.
// It is mutated only by amendments; the engine reads it as a snapshot.
type Contract struct {
	ID   ContractID
	Name string

	// BaseAmount is the contracted amount at signing, before amendments.
	BaseAmount decimal.Decimal

	// AdvanceAmount is the advance payment fixed at signing. It is
	// recovered proportionally from each requisition (amortization).
	AdvanceAmount decimal.Decimal

	// RetentionPercent is the guarantee-fund percentage withheld from
	// each normal concept (10 means 10%).
	RetentionPercent decimal.Decimal

	// TaxInclusive selects the default tax treatment for requisitions.
	TaxInclusive bool

	// Version supports optimistic concurrency at the persistence boundary.
	// The engine itself never touches it.
	Version int64

	CreatedAt time.Time
}

// =============================================================================
// CATALOG LINE ITEM - A payable unit of work with a quantity ceiling
// =============================================================================

// CatalogLineItem belongs to exactly one contract. Its CURRENT quantity is
// derived by replaying amendments (see ledger.go); only the original
// catalog quantity is stored here.
type CatalogLineItem struct {
	ID          LineItemID
	ContractID  ContractID
	Code        string
	Description string
	Unit        string

	// OriginalQuantity is the pre-amendment catalog quantity, kept for
	// display next to the amended quantity.
	OriginalQuantity decimal.Decimal

	UnitPrice decimal.Decimal
}

// =============================================================================
// AMENDMENT - Contract modification
// =============================================================================

type AmendmentKind string

const (
	// AmendmentAdditive raises catalog quantities (per line item).
	AmendmentAdditive AmendmentKind = "additive"
	// AmendmentDeductive lowers catalog quantities (per line item).
	AmendmentDeductive AmendmentKind = "deductive"
	// AmendmentExtra adds work outside the catalog for a fixed amount.
	AmendmentExtra AmendmentKind = "extra"
	// AmendmentSpecialDeduction is a fixed amount deductible at most once
	// across the contract's lifetime.
	AmendmentSpecialDeduction AmendmentKind = "special_deduction"
	// AmendmentRetention is a capped pool that can be withheld once and
	// returned once (see retention.go).
	AmendmentRetention AmendmentKind = "retention"
)

type AmendmentStatus string

const (
	AmendmentDraft    AmendmentStatus = "draft"
	AmendmentApplied  AmendmentStatus = "applied"
	AmendmentApproved AmendmentStatus = "approved"
)

// QuantityChange sets a line item's catalog quantity to a NEW value.
// Changes overwrite, they do not accumulate: replaying Additive(qty=10)
// then Deductive(qty=7) for the same item yields 7, not 3.
type QuantityChange struct {
	LineItemID  LineItemID
	NewQuantity decimal.Decimal
}

// Amendment modifies a contract. Only effective amendments (see
// Effective) are visible to the consumption ledger.
type Amendment struct {
	ID         AmendmentID
	ContractID ContractID
	Kind       AmendmentKind
	Status     AmendmentStatus

	// Amount is the monetary value of the amendment: the additive or
	// deductive delta for display, the fixed amount of an extra or
	// special deduction, or the ceiling of a retention unit.
	Amount decimal.Decimal

	// Changes carries (line item, new quantity) pairs for
	// additive/deductive amendments. Empty for other kinds.
	Changes []QuantityChange

	// EffectiveAt orders additive/deductive replay. Later amendments for
	// the same line item win.
	EffectiveAt time.Time

	// Retention cumulative counters, mutated only via LedgerMutation
	// (assembler.go) in the same transaction as the requisition save.
	AppliedTotal  decimal.Decimal
	ReturnedTotal decimal.Decimal

	// Version supports optimistic concurrency on the counters above.
	Version int64
}

// Effective reports whether the amendment affects the ledger.
// Extra work requires approval; everything else requires application.
func (a Amendment) Effective() bool {
	if a.Kind == AmendmentExtra {
		return a.Status == AmendmentApproved
	}
	return a.Status == AmendmentApplied
}

// DisposableRetention is the amount still withholdable from a retention
// unit. Returns do NOT restore capacity: once withheld-and-returned, the
// unit is exhausted, not recycled.
func (a Amendment) DisposableRetention() decimal.Decimal {
	d := a.Amount.Sub(a.AppliedTotal)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DERIVED FIELD - Auto-computed value with manual override
// =============================================================================

type FieldSource string

const (
	// SourceAuto marks a value the engine manages; every recompute pass
	// overwrites it.
	SourceAuto FieldSource = "auto"
	// SourceManual marks a user override; recomputation leaves it alone.
	SourceManual FieldSource = "manual"
)

// DerivedField is a monetary value the engine recomputes on every
// selection change unless the user pinned it manually.
type DerivedField struct {
	Value  decimal.Decimal
	Source FieldSource
}

// Auto wraps a value as engine-managed.
func Auto(v decimal.Decimal) DerivedField {
	return DerivedField{Value: v, Source: SourceAuto}
}

// Manual wraps a value as user-pinned.
func Manual(v decimal.Decimal) DerivedField {
	return DerivedField{Value: v, Source: SourceManual}
}

// IsManual reports whether recomputation must preserve the value.
func (f DerivedField) IsManual() bool { return f.Source == SourceManual }

// =============================================================================
// CONCEPT - One line inside a requisition (tagged union)
// =============================================================================

type ConceptKind string

const (
	ConceptNormal           ConceptKind = "normal"
	ConceptAdvance          ConceptKind = "advance"
	ConceptSpecialDeduction ConceptKind = "special_deduction"
	ConceptRetention        ConceptKind = "retention"
)

// RetentionAction tags which lifecycle step a retention concept records.
type RetentionAction string

const (
	RetentionApply  RetentionAction = "apply"
	RetentionReturn RetentionAction = "return"
)

// Concept is a tagged union: exactly one of the kind-specific structs is
// non-nil, matching Kind. This replaces a loosely-typed record with many
// optional fields.
type Concept struct {
	ID   string
	Kind ConceptKind

	Normal    *NormalConcept
	Advance   *AdvanceConcept
	Deduction *DeductionConcept
	Retention *RetentionConcept
}

// NormalConcept consumes catalog quantity from a line item.
type NormalConcept struct {
	LineItemID  LineItemID
	Description string
	Unit        string

	// Quantity consumed by THIS requisition.
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal

	// Amount = Quantity x UnitPrice, recomputed on every pass.
	Amount decimal.Decimal

	// Amortization and Retention are per-concept derived fields.
	// Recomputation only overwrites them when Source is auto.
	Amortization DerivedField
	Retention    DerivedField
}

// AdvanceConcept is the synthetic singleton paying out the disposable
// advance balance. Quantity is fixed at 1.
type AdvanceConcept struct {
	Amount decimal.Decimal
}

// DeductionConcept consumes a special-deduction amendment exactly once.
// Amount is stored negative; the unit is always "lump-sum".
type DeductionConcept struct {
	AmendmentID AmendmentID
	Description string
	Unit        string
	Amount      decimal.Decimal
}

// RetentionConcept applies or returns a retention unit. Amount is signed:
// negative for apply (withhold), positive for return.
type RetentionConcept struct {
	AmendmentID AmendmentID
	Action      RetentionAction

	// Volume is a multiplier over UnitPrice, normally 1.
	Volume    decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// Amount returns the signed monetary value of the concept regardless of
// kind. A malformed concept (nil variant) contributes zero rather than
// panicking; upstream loading is a collaborator's responsibility.
func (c Concept) Amount() decimal.Decimal {
	switch c.Kind {
	case ConceptNormal:
		if c.Normal != nil {
			return c.Normal.Amount
		}
	case ConceptAdvance:
		if c.Advance != nil {
			return c.Advance.Amount
		}
	case ConceptSpecialDeduction:
		if c.Deduction != nil {
			return c.Deduction.Amount
		}
	case ConceptRetention:
		if c.Retention != nil {
			return c.Retention.Amount
		}
	}
	return decimal.Zero
}

// =============================================================================
// REQUISITION - Draft payment claim against a contract
// =============================================================================

type RequisitionStatus string

const (
	RequisitionDraft     RequisitionStatus = "draft"
	RequisitionSubmitted RequisitionStatus = "submitted"
	RequisitionClosed    RequisitionStatus = "closed"
)

// Requisition is short-lived per payment cycle: created in draft, fully
// recomputed on every concept-selection change, finalized on save. It may
// be re-opened for edit, in which case the ledger excludes its own prior
// consumption (see Snapshot.EditingRequisitionID).
type Requisition struct {
	ID         RequisitionID
	ContractID ContractID
	Number     int
	Status     RequisitionStatus

	Concepts []Concept

	// TaxInclusive is the tax election for this requisition. Defaults to
	// the contract's treatment but may be toggled per requisition.
	TaxInclusive bool

	// Derived monetary fields, persisted exactly as computed (2 dp).
	BaseAmount      decimal.Decimal
	Amortization    decimal.Decimal
	Retention       decimal.Decimal // guarantee-fund withholding, sum of per-concept retentions
	OtherDeductions decimal.Decimal // positive magnitude of special-deduction concepts
	RetentionHeld   decimal.Decimal // negative: retention-unit apply in this requisition
	RetentionFreed  decimal.Decimal // positive: retention-unit return in this requisition
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYMENT REQUEST - The record of actual consumption
// =============================================================================

type PaymentRequestStatus string

const (
	PaymentRequestIssued PaymentRequestStatus = "issued"
	PaymentRequestPaid   PaymentRequestStatus = "paid"
)

// PaymentRequest holds the subset of a requisition's concepts that were
// formalized. The consumption ledger scans these, never requisitions:
// a concept reserved in a draft does not reduce availability until it
// appears inside an issued payment request.
type PaymentRequest struct {
	ID            PaymentRequestID
	RequisitionID RequisitionID
	ContractID    ContractID
	Status        PaymentRequestStatus

	Concepts []Concept

	IssuedAt time.Time
}
