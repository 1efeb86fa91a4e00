/*
handlers_test.go - Unit tests for API handlers

Tests the full HTTP surface against the in-memory store:
- Contract setup (create, items, amendments)
- Availability and live recompute
- Save, validation failure, edit, conflict
- Payment request issue and statement
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/obrakit/settlement-engine/settlement"
	"github.com/obrakit/settlement-engine/settlement/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	srv := httptest.NewServer(NewRouter(NewHandler(mem), nil))
	t.Cleanup(srv.Close)
	return srv, mem
}

func seedContract(t *testing.T, mem *store.Memory) settlement.ContractID {
	t.Helper()
	ctx := context.Background()

	c := settlement.Contract{
		ID:               "ct-1",
		Name:             "Road section 4",
		BaseAmount:       settlement.MustParseDecimal("100000"),
		AdvanceAmount:    settlement.MustParseDecimal("30000"),
		RetentionPercent: settlement.MustParseDecimal("10"),
	}
	if err := mem.CreateContract(ctx, c); err != nil {
		t.Fatalf("Failed to create contract: %v", err)
	}
	err := mem.AddLineItems(ctx, c.ID, []settlement.CatalogLineItem{
		{ID: "li-1", Code: "C-01", Description: "Structural concrete", Unit: "m3",
			OriginalQuantity: settlement.MustParseDecimal("100"), UnitPrice: settlement.MustParseDecimal("500")},
	})
	if err != nil {
		t.Fatalf("Failed to add items: %v", err)
	}
	if err := mem.AddAmendment(ctx, settlement.Amendment{
		ID: "am-ret", ContractID: c.ID,
		Kind: settlement.AmendmentRetention, Amount: settlement.MustParseDecimal("8000"),
	}); err != nil {
		t.Fatalf("Failed to add amendment: %v", err)
	}
	if err := mem.SetAmendmentStatus(ctx, "am-ret", settlement.AmendmentApplied); err != nil {
		t.Fatalf("Failed to apply amendment: %v", err)
	}
	return c.ID
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

// =============================================================================
// CONTRACT SETUP
// =============================================================================

func TestCreateContractAndItems(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/contracts", CreateContractRequest{
		Name: "Plant expansion", BaseAmount: 250000, AdvanceAmount: 50000, RetentionPercent: 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	c := decode[ContractDTO](t, resp)
	if c.ID == "" || c.BaseAmount != 250000 {
		t.Fatalf("unexpected contract: %+v", c)
	}

	resp = postJSON(t, srv.URL+"/api/contracts/"+c.ID+"/items", AddLineItemsRequest{
		Items: []LineItemRequest{{Code: "E-01", Description: "Excavation", Unit: "m3", Quantity: 500, UnitPrice: 80}},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/contracts/" + c.ID + "/availability")
	if err != nil {
		t.Fatalf("GET availability failed: %v", err)
	}
	avail := decode[AvailabilityDTO](t, resp)
	if len(avail.Items) != 1 || avail.Items[0].Available != 500 {
		t.Fatalf("unexpected availability: %+v", avail)
	}
}

func TestAmendmentApplyRoutesKindToStatus(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/amendments", srv.URL, cid), CreateAmendmentRequest{
		Kind: "extra", Amount: 50000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	a := decode[AmendmentDTO](t, resp)
	if a.Status != "draft" {
		t.Fatalf("new amendment must be draft, got %s", a.Status)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/contracts/%s/amendments/%s/apply", srv.URL, cid, a.ID), nil)
	applied := decode[AmendmentDTO](t, resp)
	if applied.Status != "approved" {
		t.Fatalf("extra work must become approved, got %s", applied.Status)
	}
}

// =============================================================================
// RECOMPUTE AND SAVE
// =============================================================================

func TestRecomputeReferenceBreakdown(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions/recompute", srv.URL, cid), SelectionRequest{
		Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 40}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decode[RecomputeResponse](t, resp)

	if !out.Valid {
		t.Fatalf("expected valid pass: %+v", out.Validation)
	}
	if out.Totals.BaseAmount != 20000 || out.Totals.Amortization != 6000 ||
		out.Totals.Retention != 2000 || out.Totals.Total != 12000 {
		t.Fatalf("unexpected totals: %+v", out.Totals)
	}
	if len(out.Availability.Retentions) != 1 || out.Availability.Retentions[0].Status != "fresh" {
		t.Fatalf("unexpected retention row: %+v", out.Availability.Retentions)
	}
}

func TestSaveRejectsInvalidSelectionWithFieldKeys(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions", srv.URL, cid), SaveRequisitionRequest{
		Selection: SelectionRequest{
			Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 101}},
		},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	body := decode[ErrorResponse](t, resp)
	if body.Code != "validation_failed" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestSaveEditIssueFlow(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	// Save a new requisition claiming 60 m3.
	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions", srv.URL, cid), SaveRequisitionRequest{
		Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 60}}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	req := decode[RequisitionDTO](t, resp)
	if req.Number != 1 || req.Totals.BaseAmount != 30000 {
		t.Fatalf("unexpected requisition: %+v", req)
	}

	// Issue the payment request; consumption becomes visible.
	resp = postJSON(t, srv.URL+"/api/requisitions/"+req.ID+"/payment-requests", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	getAvail := func(query string) AvailabilityDTO {
		r, err := http.Get(fmt.Sprintf("%s/api/contracts/%s/availability%s", srv.URL, cid, query))
		if err != nil {
			t.Fatalf("GET availability failed: %v", err)
		}
		return decode[AvailabilityDTO](t, r)
	}

	if avail := getAvail(""); avail.Items[0].Available != 40 {
		t.Fatalf("expected 40 available, got %v", avail.Items[0].Available)
	}
	// Self-exclusion: editing the same requisition frees its 60 m3.
	if avail := getAvail("?editing=" + req.ID); avail.Items[0].Available != 100 {
		t.Fatalf("expected 100 available under edit, got %v", avail.Items[0].Available)
	}

	// Edit down to 50 m3 via PUT.
	putBody, _ := json.Marshal(SaveRequisitionRequest{
		Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 50}}},
		Version:   req.Version,
	})
	httpReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/requisitions/"+req.ID, bytes.NewReader(putBody))
	httpReq.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", putResp.StatusCode)
	}
	edited := decode[RequisitionDTO](t, putResp)
	if edited.Totals.BaseAmount != 25000 {
		t.Fatalf("expected base 25000 after edit, got %v", edited.Totals.BaseAmount)
	}
	if edited.Version != req.Version+1 {
		t.Fatalf("expected version bump, got %d", edited.Version)
	}
}

func TestEditWithStaleVersionConflicts(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions", srv.URL, cid), SaveRequisitionRequest{
		Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 10}}},
	})
	req := decode[RequisitionDTO](t, resp)

	put := func(version int64) int {
		body, _ := json.Marshal(SaveRequisitionRequest{
			Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 20}}},
			Version:   version,
		})
		httpReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/requisitions/"+req.ID, bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		r, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatalf("PUT failed: %v", err)
		}
		defer r.Body.Close()
		return r.StatusCode
	}

	if code := put(req.Version); code != http.StatusOK {
		t.Fatalf("first edit should pass, got %d", code)
	}
	// Re-using the old version must be rejected.
	if code := put(req.Version); code != http.StatusConflict {
		t.Fatalf("stale version should conflict, got %d", code)
	}
}

// contendedStore injects one concurrent edit: the first save targeting
// the named requisition is preceded by a rival save that bumps its
// version, so the outer attempt conflicts exactly once.
type contendedStore struct {
	settlement.Store
	target    settlement.RequisitionID
	contended bool
}

func (s *contendedStore) SaveRequisition(ctx context.Context, req *settlement.Requisition, mutation *settlement.LedgerMutation) error {
	if !s.contended && s.target != "" && req.ID == s.target {
		s.contended = true
		rival, err := s.Store.GetRequisition(ctx, s.target)
		if err != nil {
			return err
		}
		if err := s.Store.SaveRequisition(ctx, &rival, nil); err != nil {
			return err
		}
	}
	return s.Store.SaveRequisition(ctx, req, mutation)
}

func TestEditWithoutVersionHealsConflict(t *testing.T) {
	mem := store.NewMemory()
	cs := &contendedStore{Store: mem}
	srv := httptest.NewServer(NewRouter(NewHandler(cs), nil))
	t.Cleanup(srv.Close)
	cid := seedContract(t, mem)

	resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions", srv.URL, cid), SaveRequisitionRequest{
		Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 10}}},
	})
	req := decode[RequisitionDTO](t, resp)
	cs.target = settlement.RequisitionID(req.ID)

	// No version in the body: each save attempt targets whatever version
	// the requisition carries at that moment, so the injected conflict
	// heals on retry instead of surfacing a 409.
	body, _ := json.Marshal(SaveRequisitionRequest{
		Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: 20}}},
	})
	httpReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/requisitions/"+req.ID, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", putResp.StatusCode)
	}
	edited := decode[RequisitionDTO](t, putResp)
	if !cs.contended {
		t.Fatal("rival edit was never injected")
	}
	if edited.Totals.BaseAmount != 10000 {
		t.Fatalf("expected base 10000 after edit, got %v", edited.Totals.BaseAmount)
	}
}

func TestConsistencyWarningIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	logConsistencyWarning("ct-1", &settlement.ConsistencyWarning{
		Subtotal: settlement.MustParseDecimal("100"),
		Tax:      settlement.MustParseDecimal("16"),
		Total:    settlement.MustParseDecimal("116.05"),
		Drift:    settlement.MustParseDecimal("0.05"),
	})

	if got := buf.String(); !strings.Contains(got, "consistency drift on contract ct-1") {
		t.Fatalf("warning not logged: %q", got)
	}
}

// =============================================================================
// STATEMENT
// =============================================================================

func TestStatementAggregates(t *testing.T) {
	srv, mem := newTestServer(t)
	cid := seedContract(t, mem)

	for _, qty := range []float64{20, 30} {
		resp := postJSON(t, fmt.Sprintf("%s/api/contracts/%s/requisitions", srv.URL, cid), SaveRequisitionRequest{
			Selection: SelectionRequest{Items: []ItemSelectionRequest{{LineItemID: "li-1", Quantity: qty}}},
		})
		req := decode[RequisitionDTO](t, resp)
		resp = postJSON(t, srv.URL+"/api/requisitions/"+req.ID+"/payment-requests", nil)
		resp.Body.Close()
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/contracts/%s/statement", srv.URL, cid))
	if err != nil {
		t.Fatalf("GET statement failed: %v", err)
	}
	stmt := decode[StatementDTO](t, resp)

	if len(stmt.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stmt.Rows))
	}
	if stmt.TotalClaimed != 25000 { // (20+30) x 500
		t.Fatalf("expected claimed 25000, got %v", stmt.TotalClaimed)
	}
	if stmt.TotalAmortized != 7500 { // 30% of claimed
		t.Fatalf("expected amortized 7500, got %v", stmt.TotalAmortized)
	}
	// 30,000 advance minus 7,500 amortized across submitted requisitions.
	if stmt.DisposableAdvance != 22500 {
		t.Fatalf("expected disposable advance 22500, got %v", stmt.DisposableAdvance)
	}
	if stmt.EffectiveAmount != 100000 {
		t.Fatalf("expected effective amount 100000, got %v", stmt.EffectiveAmount)
	}
}
