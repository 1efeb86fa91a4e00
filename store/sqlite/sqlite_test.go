package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obrakit/settlement-engine/settlement"
	"github.com/obrakit/settlement-engine/store/sqlite"
)

func d(s string) decimal.Decimal { return settlement.MustParseDecimal(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "settlement.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *sqlite.Store) settlement.ContractID {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.CreateContract(ctx, settlement.Contract{
		ID:               "ct-1",
		Name:             "Road section 4",
		BaseAmount:       d("100000"),
		AdvanceAmount:    d("30000"),
		RetentionPercent: d("10"),
	}))
	require.NoError(t, st.AddLineItems(ctx, "ct-1", []settlement.CatalogLineItem{
		{Code: "C-01", Description: "Structural concrete", Unit: "m3", OriginalQuantity: d("100"), UnitPrice: d("500")},
		{Code: "S-01", Description: "Reinforcement steel", Unit: "ton", OriginalQuantity: d("200"), UnitPrice: d("250")},
	}))
	require.NoError(t, st.AddAmendment(ctx, settlement.Amendment{
		ID: "am-ret", ContractID: "ct-1",
		Kind: settlement.AmendmentRetention, Amount: d("8000"),
	}))
	require.NoError(t, st.SetAmendmentStatus(ctx, "am-ret", settlement.AmendmentApplied))
	return "ct-1"
}

func TestSQLite_ContractRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	c, err := st.GetContract(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, "Road section 4", c.Name)
	assert.True(t, c.BaseAmount.Equal(d("100000")))
	assert.True(t, c.RetentionPercent.Equal(d("10")))

	_, err = st.GetContract(ctx, "nope")
	assert.ErrorIs(t, err, settlement.ErrContractNotFound)

	list, err := st.ListContracts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLite_SnapshotCarriesEverything(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	snap, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)

	assert.Len(t, snap.Items, 2)
	require.Len(t, snap.Amendments, 1)
	assert.Equal(t, settlement.AmendmentApplied, snap.Amendments[0].Status)

	// Amendment quantity changes survive the JSON column.
	require.NoError(t, st.AddAmendment(ctx, settlement.Amendment{
		ID: "am-add", ContractID: cid,
		Kind:   settlement.AmendmentAdditive,
		Status: settlement.AmendmentApplied,
		Changes: []settlement.QuantityChange{
			{LineItemID: snap.Items[0].ID, NewQuantity: d("120")},
		},
	}))

	snap, err = st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)
	a, ok := snap.Amendment("am-add")
	require.True(t, ok)
	require.Len(t, a.Changes, 1)
	assert.True(t, a.Changes[0].NewQuantity.Equal(d("120")))
}

func TestSQLite_SaveRequisitionAtomicWithMutation(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	snap, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)

	item := snap.Items[0]
	result, assembly, err := settlement.Engine{}.Finalize(snap, settlement.Selection{
		Items:     []settlement.ItemSelection{{LineItemID: item.ID, Quantity: d("40")}},
		Retention: &settlement.RetentionSelection{AmendmentID: "am-ret"},
	})
	require.NoError(t, err)
	require.NotNil(t, assembly.Mutation)

	req := settlement.Requisition{ContractID: cid}
	result.ApplyTo(&req)
	req.Concepts = assembly.Concepts
	require.NoError(t, st.SaveRequisition(ctx, &req, assembly.Mutation))
	assert.Equal(t, 1, req.Number)
	assert.Equal(t, int64(1), req.Version)

	// Counter and version moved together with the requisition row.
	snap2, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)
	am, ok := snap2.Amendment("am-ret")
	require.True(t, ok)
	assert.True(t, am.AppliedTotal.Equal(d("8000")), "applied total: %s", am.AppliedTotal)
	assert.Equal(t, int64(1), am.Version)

	// Concepts round-trip through the JSON column with kinds intact.
	got, err := st.GetRequisition(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Concepts, 2)
	assert.Equal(t, settlement.ConceptNormal, got.Concepts[0].Kind)
	require.NotNil(t, got.Concepts[0].Normal)
	assert.True(t, got.Concepts[0].Normal.Quantity.Equal(d("40")))
	assert.Equal(t, settlement.ConceptRetention, got.Concepts[1].Kind)
	assert.True(t, got.Total.Equal(req.Total))
}

func TestSQLite_StaleMutationRollsBackWholeSave(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	snap, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)
	item := snap.Items[0]

	finalize := func(snap settlement.Snapshot) (*settlement.LedgerMutation, []settlement.Concept) {
		_, asm, err := settlement.Engine{}.Finalize(snap, settlement.Selection{
			Items:     []settlement.ItemSelection{{LineItemID: item.ID, Quantity: d("10")}},
			Retention: &settlement.RetentionSelection{AmendmentID: "am-ret"},
		})
		require.NoError(t, err)
		return asm.Mutation, asm.Concepts
	}

	// Both finalized against the same snapshot; the first commit wins.
	mut1, concepts1 := finalize(snap)
	req1 := settlement.Requisition{ContractID: cid, Concepts: concepts1}
	require.NoError(t, st.SaveRequisition(ctx, &req1, mut1))

	mut2, concepts2 := finalize(snap)
	req2 := settlement.Requisition{ContractID: cid, Concepts: concepts2}
	err = st.SaveRequisition(ctx, &req2, mut2)
	require.ErrorIs(t, err, settlement.ErrConcurrentModification)

	reqs, err := st.ListRequisitions(ctx, cid)
	require.NoError(t, err)
	assert.Len(t, reqs, 1, "losing save must leave no requisition row")
}

func TestSQLite_StaleRequisitionUpdateRejected(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	req := settlement.Requisition{ContractID: cid, Concepts: []settlement.Concept{}}
	require.NoError(t, st.SaveRequisition(ctx, &req, nil))

	current := req
	require.NoError(t, st.SaveRequisition(ctx, &current, nil))
	require.Equal(t, int64(2), current.Version)

	stale := req
	stale.Version = 1
	err := st.SaveRequisition(ctx, &stale, nil)
	assert.ErrorIs(t, err, settlement.ErrConcurrentModification)
}

func TestSQLite_IssuePaymentRequestFlow(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cid := seed(t, st)

	snap, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)
	item := snap.Items[0]

	result, assembly, err := settlement.Engine{}.Finalize(snap, settlement.Selection{
		Items: []settlement.ItemSelection{{LineItemID: item.ID, Quantity: d("40")}},
	})
	require.NoError(t, err)

	req := settlement.Requisition{ContractID: cid}
	result.ApplyTo(&req)
	req.Concepts = assembly.Concepts
	require.NoError(t, st.SaveRequisition(ctx, &req, nil))

	pr, err := st.IssuePaymentRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.PaymentRequestIssued, pr.Status)
	assert.Len(t, pr.Concepts, 1)

	updated, err := st.GetRequisition(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.RequisitionSubmitted, updated.Status)

	// The issued request now consumes availability.
	snap2, err := st.LoadSnapshot(ctx, cid, "")
	require.NoError(t, err)
	row, ok := settlement.ComputeLedger(snap2).Item(item.ID)
	require.True(t, ok)
	assert.True(t, row.Available.Equal(d("60")), "available: %s", row.Available)

	_, err = st.IssuePaymentRequest(ctx, "nope")
	assert.ErrorIs(t, err, settlement.ErrRequisitionNotFound)
}
