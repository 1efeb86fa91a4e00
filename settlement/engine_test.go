package settlement_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/obrakit/settlement-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func m(s string) decimal.Decimal { return settlement.MustParseDecimal(s) }

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

// baseSnapshot builds the reference contract: base 100,000, advance
// 30,000, retention 10%, tax-exclusive, two line items worth 50,000 each.
func baseSnapshot() settlement.Snapshot {
	return settlement.Snapshot{
		Contract: settlement.Contract{
			ID:               "ct-1",
			Name:             "Road section 4",
			BaseAmount:       m("100000"),
			AdvanceAmount:    m("30000"),
			RetentionPercent: m("10"),
			TaxInclusive:     false,
		},
		Items: []settlement.CatalogLineItem{
			{ID: "li-concrete", ContractID: "ct-1", Code: "C-01", Description: "Structural concrete", Unit: "m3", OriginalQuantity: m("100"), UnitPrice: m("500")},
			{ID: "li-steel", ContractID: "ct-1", Code: "S-01", Description: "Reinforcement steel", Unit: "ton", OriginalQuantity: m("200"), UnitPrice: m("250")},
		},
	}
}

func quantityAmendment(id string, kind settlement.AmendmentKind, at time.Time, changes ...settlement.QuantityChange) settlement.Amendment {
	return settlement.Amendment{
		ID:          settlement.AmendmentID(id),
		ContractID:  "ct-1",
		Kind:        kind,
		Status:      settlement.AmendmentApplied,
		EffectiveAt: at,
		Changes:     changes,
	}
}

func issuedRequest(reqID string, concepts ...settlement.Concept) settlement.PaymentRequest {
	return settlement.PaymentRequest{
		ID:            settlement.PaymentRequestID("pr-" + reqID),
		RequisitionID: settlement.RequisitionID(reqID),
		ContractID:    "ct-1",
		Status:        settlement.PaymentRequestIssued,
		Concepts:      concepts,
		IssuedAt:      day(1),
	}
}

func normalConcept(itemID string, qty, price string) settlement.Concept {
	q := m(qty)
	p := m(price)
	return settlement.Concept{
		Kind: settlement.ConceptNormal,
		Normal: &settlement.NormalConcept{
			LineItemID: settlement.LineItemID(itemID),
			Quantity:   q,
			UnitPrice:  p,
			Amount:     q.Mul(p),
		},
	}
}

func retentionConcept(amendmentID string, action settlement.RetentionAction, amount string) settlement.Concept {
	return settlement.Concept{
		Kind: settlement.ConceptRetention,
		Retention: &settlement.RetentionConcept{
			AmendmentID: settlement.AmendmentID(amendmentID),
			Action:      action,
			Volume:      m("1"),
			Amount:      m(amount),
		},
	}
}

func eq(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(m(want)) {
		t.Errorf("%s: expected %s, got %s", label, want, got)
	}
}

// =============================================================================
// WORKED EXAMPLE - the reference financial breakdown
// =============================================================================

func TestRecompute_ReferenceBreakdown(t *testing.T) {
	// GIVEN: Contract base 100,000, advance 30,000, retention 10%, tax-exclusive
	// WHEN: Selecting one normal concept worth 20,000 (40 m3 x 500)
	// THEN: amortization 6,000, retention 2,000, subtotal 12,000, tax 0, total 12,000

	engine := settlement.Engine{}
	result := engine.Recompute(baseSnapshot(), settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
	})

	if !result.Valid() {
		t.Fatalf("expected valid result, got %v", result.Validation)
	}
	eq(t, result.Totals.BaseAmount, "20000", "base")
	eq(t, result.Totals.Amortization, "6000", "amortization")
	eq(t, result.Totals.Retention, "2000", "retention")
	eq(t, result.Totals.Subtotal, "12000", "subtotal")
	eq(t, result.Totals.Tax, "0", "tax")
	eq(t, result.Totals.Total, "12000", "total")
}

func TestRecompute_TaxElectionTogglesTax(t *testing.T) {
	// GIVEN: The reference selection, subtotal 12,000
	// WHEN: Enabling tax-inclusive treatment
	// THEN: tax = 12,000 x 0.16 = 1,920, total 13,920

	engine := settlement.Engine{}
	taxed := true
	result := engine.Recompute(baseSnapshot(), settlement.Selection{
		Items:        []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
		TaxInclusive: &taxed,
	})

	eq(t, result.Totals.Tax, "1920", "tax")
	eq(t, result.Totals.Total, "13920", "total")
}

// =============================================================================
// DERIVED FIELD OVERRIDES
// =============================================================================

func TestRecompute_ManualOverrideSurvivesRecomputation(t *testing.T) {
	// GIVEN: A user pinned the amortization of one concept to 1,000
	// WHEN: The pass recomputes derived fields
	// THEN: The pinned value is preserved, the auto retention is not

	engine := settlement.Engine{}
	pinned := m("1000")
	result := engine.Recompute(baseSnapshot(), settlement.Selection{
		Items: []settlement.ItemSelection{{
			LineItemID:         "li-concrete",
			Quantity:           m("40"),
			ManualAmortization: &pinned,
		}},
	})

	n := result.Concepts[0].Normal
	eq(t, n.Amortization.Value, "1000", "pinned amortization")
	if !n.Amortization.IsManual() {
		t.Error("amortization should remain manual after recompute")
	}
	eq(t, n.Retention.Value, "2000", "auto retention")
	eq(t, result.Totals.Amortization, "1000", "aggregate amortization uses pin")
}

// =============================================================================
// AMORTIZATION CAP
// =============================================================================

func TestRecompute_AmortizationCappedAtDisposableAdvance(t *testing.T) {
	// GIVEN: 24,000 of the 30,000 advance already amortized elsewhere
	// WHEN: Selecting work whose computed amortization would be 15,000
	// THEN: The aggregate is capped at the 6,000 disposable balance

	snap := baseSnapshot()
	snap.Requisitions = []settlement.Requisition{
		{ID: "req-old", ContractID: "ct-1", Number: 1, Status: settlement.RequisitionSubmitted, Amortization: m("24000")},
	}

	engine := settlement.Engine{}
	result := engine.Recompute(snap, settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("100")}}, // 50,000 x 0.3 = 15,000
	})

	eq(t, result.Allocation.AmortizationUncapped, "15000", "uncapped")
	eq(t, result.Totals.Amortization, "6000", "capped aggregate")
	if !result.Allocation.AmortizationCapped {
		t.Error("cap flag should be set")
	}
}

func TestRecompute_CapRedistributesPerConceptAmortization(t *testing.T) {
	// GIVEN: Only 6,000 of the 30,000 advance remains disposable
	// WHEN: Two items each carry 15,000 of uncapped amortization
	// THEN: The per-concept figures are scaled so their sum equals the
	//       capped aggregate that gets persisted

	snap := baseSnapshot()
	snap.Requisitions = []settlement.Requisition{
		{ID: "req-old", ContractID: "ct-1", Number: 1, Status: settlement.RequisitionSubmitted, Amortization: m("24000")},
	}

	result := settlement.Engine{}.Recompute(snap, settlement.Selection{
		Items: []settlement.ItemSelection{
			{LineItemID: "li-concrete", Quantity: m("100")}, // 50,000 x 0.3 = 15,000
			{LineItemID: "li-steel", Quantity: m("200")},    // 50,000 x 0.3 = 15,000
		},
	})

	eq(t, result.Allocation.AmortizationUncapped, "30000", "uncapped sum")
	eq(t, result.Allocation.Amortization, "6000", "capped aggregate")

	sum := decimal.Zero
	for _, c := range result.Concepts {
		if c.Kind != settlement.ConceptNormal {
			continue
		}
		eq(t, c.Normal.Amortization.Value, "3000", "scaled per-concept share")
		sum = sum.Add(c.Normal.Amortization.Value)
	}
	eq(t, sum, "6000", "per-concept sum matches the aggregate")
}

func TestRecompute_CapScalingLeavesManualPinsAlone(t *testing.T) {
	// A pinned amortization is the user's number; only the auto shares
	// shrink when the cap binds.

	snap := baseSnapshot()
	snap.Requisitions = []settlement.Requisition{
		{ID: "req-old", ContractID: "ct-1", Number: 1, Status: settlement.RequisitionSubmitted, Amortization: m("24000")},
	}

	pinned := m("4000")
	result := settlement.Engine{}.Recompute(snap, settlement.Selection{
		Items: []settlement.ItemSelection{
			{LineItemID: "li-concrete", Quantity: m("100"), ManualAmortization: &pinned},
			{LineItemID: "li-steel", Quantity: m("200")},
		},
	})

	// Uncapped: 4,000 pinned + 15,000 auto; cap 6,000 leaves 2,000 for
	// the auto share.
	eq(t, result.Allocation.Amortization, "6000", "capped aggregate")
	eq(t, result.Concepts[0].Normal.Amortization.Value, "4000", "pin untouched")
	if !result.Concepts[0].Normal.Amortization.IsManual() {
		t.Error("pin must stay manual")
	}
	eq(t, result.Concepts[1].Normal.Amortization.Value, "2000", "auto share absorbs the cap")
}

func TestRecompute_AdvanceRatioTracksEffectiveAmount(t *testing.T) {
	// GIVEN: An approved extra of 50,000 raising the effective amount to 150,000
	// WHEN: Selecting a 20,000 concept
	// THEN: amortization = 20,000 x (30,000/150,000) = 4,000

	snap := baseSnapshot()
	snap.Amendments = []settlement.Amendment{{
		ID: "am-extra", ContractID: "ct-1",
		Kind: settlement.AmendmentExtra, Status: settlement.AmendmentApproved,
		Amount: m("50000"), EffectiveAt: day(2),
	}}

	result := settlement.Engine{}.Recompute(snap, settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
	})

	eq(t, result.Totals.Amortization, "4000", "amortization with extra work")
}

// =============================================================================
// VALIDATION GATE
// =============================================================================

func TestFinalize_EmptySelectionBlocked(t *testing.T) {
	_, _, err := settlement.Engine{}.Finalize(baseSnapshot(), settlement.Selection{})
	if err == nil {
		t.Fatal("empty selection must not pass the validation gate")
	}
	var verrs *settlement.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if _, ok := verrs.ByField()["concepts"]; !ok {
		t.Error("expected failure keyed by 'concepts'")
	}
}

func TestFinalize_ZeroQuantityBlocked(t *testing.T) {
	_, _, err := settlement.Engine{}.Finalize(baseSnapshot(), settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("0")}},
	})
	if err == nil {
		t.Fatal("zero quantity must not pass the validation gate")
	}
}

func TestFinalize_QuantityBeyondAvailabilityBlocked(t *testing.T) {
	_, _, err := settlement.Engine{}.Finalize(baseSnapshot(), settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("101")}},
	})
	if err == nil {
		t.Fatal("quantity above availability must not pass the validation gate")
	}
}

func TestFinalize_SplitSelectionsShareOneAvailabilityPool(t *testing.T) {
	// GIVEN: 100 m3 of concrete available
	// WHEN: Two concepts of the same item claim 60 m3 each
	// THEN: Each passes alone, but the pair is refused in aggregate

	split := func(a, b string) settlement.Selection {
		return settlement.Selection{Items: []settlement.ItemSelection{
			{LineItemID: "li-concrete", Quantity: m(a)},
			{LineItemID: "li-concrete", Quantity: m(b)},
		}}
	}

	_, _, err := settlement.Engine{}.Finalize(baseSnapshot(), split("60", "60"))
	if err == nil {
		t.Fatal("120 m3 claimed against 100 available must not pass the validation gate")
	}
	var verrs *settlement.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if _, ok := verrs.ByField()["items[li-concrete]"]; !ok {
		t.Errorf("expected aggregate failure keyed by item, got %v", verrs)
	}

	// Splits that fit in aggregate stay saveable.
	result, _, err := settlement.Engine{}.Finalize(baseSnapshot(), split("60", "40"))
	if err != nil {
		t.Fatalf("100 m3 in two concepts should pass: %v", err)
	}
	eq(t, result.Totals.BaseAmount, "50000", "base across splits")
}

func TestFinalize_DuplicateDeductionElectionBlocked(t *testing.T) {
	// GIVEN: One applied special deduction of 5,000
	// WHEN: The selection elects it twice
	// THEN: The gate closes instead of deducting 10,000

	snap := baseSnapshot()
	snap.Amendments = []settlement.Amendment{{
		ID: "am-sd", ContractID: "ct-1",
		Kind: settlement.AmendmentSpecialDeduction, Status: settlement.AmendmentApplied,
		Amount: m("5000"), EffectiveAt: day(3),
	}}

	_, _, err := settlement.Engine{}.Finalize(snap, settlement.Selection{
		Items:        []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
		DeductionIDs: []settlement.AmendmentID{"am-sd", "am-sd"},
	})
	if err == nil {
		t.Fatal("electing the same deduction twice must not pass the validation gate")
	}
	var verrs *settlement.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	found := false
	for _, fe := range verrs.Errors {
		if fe.Code == "deduction_duplicate" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a deduction_duplicate failure, got %v", verrs)
	}

	// A single election of the same deduction stays saveable.
	result, _, err := settlement.Engine{}.Finalize(snap, settlement.Selection{
		Items:        []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
		DeductionIDs: []settlement.AmendmentID{"am-sd"},
	})
	if err != nil {
		t.Fatalf("single election should pass: %v", err)
	}
	eq(t, result.Totals.OtherDeductions, "5000", "deducted once")
}

func TestFinalize_ValidSelectionAssembles(t *testing.T) {
	result, assembly, err := settlement.Engine{}.Finalize(baseSnapshot(), settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: "li-concrete", Quantity: m("40")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assembly.Concepts) != 1 {
		t.Fatalf("expected 1 assembled concept, got %d", len(assembly.Concepts))
	}
	if assembly.Mutation != nil {
		t.Error("no retention action selected, mutation must be nil")
	}
	if !result.Valid() {
		t.Error("result should be valid")
	}
}
