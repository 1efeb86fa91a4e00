/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                      List contracts
    POST   /api/contracts                      Create contract
    GET    /api/contracts/{id}                 Get contract
    POST   /api/contracts/{id}/items           Add catalog line items
    POST   /api/contracts/{id}/amendments      Register amendment (draft)
    POST   /api/contracts/{id}/amendments/{aid}/apply  Make it effective

  Drafting:
    GET    /api/contracts/{id}/availability    Availability table
    POST   /api/contracts/{id}/requisitions/recompute  Live pass (no save)
    POST   /api/contracts/{id}/requisitions    Validate + save new
    GET    /api/contracts/{id}/requisitions    List requisitions
    PUT    /api/requisitions/{id}              Edit (self-exclusion applies)
    GET    /api/requisitions/{id}              Get requisition
    POST   /api/requisitions/{id}/payment-requests  Issue consumption record
    GET    /api/contracts/{id}/payment-requests     List payment requests
    GET    /api/contracts/{id}/statement       Account statement

REQUEST FLOW:
  1. Parse HTTP request
  2. Load a fresh snapshot (every pass, every save)
  3. Call domain logic (engine recompute/finalize)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (unparseable body, bad IDs)
  - 404: Resource not found
  - 409: Optimistic-concurrency conflict that survived retries
  - 422: Validation gate closed (field-keyed details)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - settlement/engine.go: The recompute/finalize pass
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/obrakit/settlement-engine/settlement"
)

// saveAttempts bounds optimistic-concurrency retries per save request.
const saveAttempts = 3

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  settlement.Store
	Engine settlement.Engine
}

// NewHandler creates a new handler with the given store.
func NewHandler(store settlement.Store) *Handler {
	return &Handler{Store: store}
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns all contracts.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract registers a new contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Contract name is required", nil)
		return
	}

	c := settlement.Contract{
		ID:               settlement.ContractID(uuid.NewString()),
		Name:             req.Name,
		BaseAmount:       decimal.NewFromFloat(req.BaseAmount),
		AdvanceAmount:    decimal.NewFromFloat(req.AdvanceAmount),
		RetentionPercent: decimal.NewFromFloat(req.RetentionPercent),
		TaxInclusive:     req.TaxInclusive,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.Store.CreateContract(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

// GetContract returns one contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))
	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

// AddLineItems appends catalog line items to a contract.
func (h *Handler) AddLineItems(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))

	var req AddLineItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "At least one line item is required", nil)
		return
	}

	items := make([]settlement.CatalogLineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = settlement.CatalogLineItem{
			Code:             it.Code,
			Description:      it.Description,
			Unit:             it.Unit,
			OriginalQuantity: decimal.NewFromFloat(it.Quantity),
			UnitPrice:        decimal.NewFromFloat(it.UnitPrice),
		}
	}
	if err := h.Store.AddLineItems(r.Context(), id, items); err != nil {
		writeDomainError(w, "Failed to add line items", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateAmendment registers an amendment in draft status.
func (h *Handler) CreateAmendment(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))

	var req CreateAmendmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a := settlement.Amendment{
		ID:         settlement.AmendmentID(uuid.NewString()),
		ContractID: id,
		Kind:       settlement.AmendmentKind(req.Kind),
		Status:     settlement.AmendmentDraft,
		Amount:     decimal.NewFromFloat(req.Amount),
	}
	switch a.Kind {
	case settlement.AmendmentAdditive, settlement.AmendmentDeductive,
		settlement.AmendmentExtra, settlement.AmendmentSpecialDeduction,
		settlement.AmendmentRetention:
	default:
		writeError(w, http.StatusBadRequest, "Unknown amendment kind", nil)
		return
	}
	if req.EffectiveAt != "" {
		t, err := time.Parse(time.RFC3339, req.EffectiveAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_at (use RFC3339)", err)
			return
		}
		a.EffectiveAt = t
	}
	for _, ch := range req.Changes {
		a.Changes = append(a.Changes, settlement.QuantityChange{
			LineItemID:  settlement.LineItemID(ch.LineItemID),
			NewQuantity: decimal.NewFromFloat(ch.NewQuantity),
		})
	}

	if a.EffectiveAt.IsZero() {
		a.EffectiveAt = time.Now().UTC()
	}
	if err := h.Store.AddAmendment(r.Context(), a); err != nil {
		writeDomainError(w, "Failed to create amendment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAmendmentDTO(a))
}

// ApplyAmendment moves an amendment to its effective status: approved for
// extra work, applied for everything else.
func (h *Handler) ApplyAmendment(w http.ResponseWriter, r *http.Request) {
	contractID := settlement.ContractID(chi.URLParam(r, "id"))
	amendmentID := settlement.AmendmentID(chi.URLParam(r, "aid"))

	snap, err := h.Store.LoadSnapshot(r.Context(), contractID, "")
	if err != nil {
		writeDomainError(w, "Failed to load contract", err)
		return
	}
	a, ok := snap.Amendment(amendmentID)
	if !ok {
		writeError(w, http.StatusNotFound, "Amendment not found", nil)
		return
	}

	status := settlement.AmendmentApplied
	if a.Kind == settlement.AmendmentExtra {
		status = settlement.AmendmentApproved
	}
	if err := h.Store.SetAmendmentStatus(r.Context(), amendmentID, status); err != nil {
		writeDomainError(w, "Failed to apply amendment", err)
		return
	}

	a.Status = status
	writeJSON(w, http.StatusOK, toAmendmentDTO(a))
}

// =============================================================================
// AVAILABILITY AND RECOMPUTE
// =============================================================================

// GetAvailability returns the contract's availability table. The optional
// ?editing=<requisition-id> excludes that requisition's own consumption.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))
	editing := settlement.RequisitionID(r.URL.Query().Get("editing"))

	snap, err := h.Store.LoadSnapshot(r.Context(), id, editing)
	if err != nil {
		writeDomainError(w, "Failed to load contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(settlement.ComputeLedger(snap)))
}

// Recompute runs one live pass without saving anything. Called on every
// concept-selection change in the UI.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))
	editing := settlement.RequisitionID(r.URL.Query().Get("editing"))

	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	started := time.Now()
	snap, err := h.Store.LoadSnapshot(r.Context(), id, editing)
	if err != nil {
		writeDomainError(w, "Failed to load contract", err)
		return
	}

	result := h.Engine.Recompute(snap, toSelection(req))
	RecomputeDuration.Observe(time.Since(started).Seconds())
	if result.Totals.Warning != nil {
		ConsistencyWarnings.Inc()
		logConsistencyWarning(id, result.Totals.Warning)
	}

	writeJSON(w, http.StatusOK, toRecomputeResponse(result))
}

// =============================================================================
// REQUISITION SAVE / EDIT
// =============================================================================

// CreateRequisition validates the selection and saves a new requisition.
func (h *Handler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))

	var req SaveRequisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.saveRequisition(w, r, id, "", 0, req.Selection)
}

// UpdateRequisition re-opens an existing requisition for edit and saves
// the new selection. Its own prior consumption is excluded from the
// availability scan, so unchanged quantities always revalidate.
func (h *Handler) UpdateRequisition(w http.ResponseWriter, r *http.Request) {
	reqID := settlement.RequisitionID(chi.URLParam(r, "id"))

	existing, err := h.Store.GetRequisition(r.Context(), reqID)
	if err != nil {
		writeDomainError(w, "Failed to get requisition", err)
		return
	}

	var req SaveRequisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.saveRequisition(w, r, existing.ContractID, reqID, req.Version, req.Selection)
}

// saveRequisition is the shared finalize-and-commit path. An empty
// editing ID means a new requisition. Conflicts reload a fresh snapshot
// and retry before giving up with 409. A zero version targets whatever
// version the requisition carries on each attempt, so requisition
// conflicts heal on retry; an explicit version enforces the client's
// expectation and conflicts until the client reloads.
func (h *Handler) saveRequisition(w http.ResponseWriter, r *http.Request, contractID settlement.ContractID, editing settlement.RequisitionID, version int64, selReq SelectionRequest) {
	ctx := r.Context()
	sel := toSelection(selReq)

	var saved settlement.Requisition
	err := settlement.RetryOnConflict(ctx, saveAttempts, func() error {
		snap, err := h.Store.LoadSnapshot(ctx, contractID, editing)
		if err != nil {
			return err
		}

		started := time.Now()
		result, assembly, err := h.Engine.Finalize(snap, sel)
		RecomputeDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			return err
		}
		if result.Totals.Warning != nil {
			ConsistencyWarnings.Inc()
			logConsistencyWarning(contractID, result.Totals.Warning)
		}

		req := settlement.Requisition{ContractID: contractID}
		if editing != "" {
			current, err := h.Store.GetRequisition(ctx, editing)
			if err != nil {
				return err
			}
			req = current
			if version != 0 {
				req.Version = version
			}
		}
		result.ApplyTo(&req)
		req.Concepts = assembly.Concepts

		if err := h.Store.SaveRequisition(ctx, &req, assembly.Mutation); err != nil {
			if settlement.IsRetryable(err) {
				SaveConflicts.Inc()
			}
			return err
		}
		saved = req
		return nil
	})

	if err != nil {
		var verrs *settlement.ValidationErrors
		switch {
		case settlement.IsClientError(err):
			RequisitionSaves.WithLabelValues("invalid").Inc()
			resp := ErrorResponse{Error: "Requisition failed validation", Code: "validation_failed"}
			if errors.As(err, &verrs) {
				for _, fe := range verrs.Errors {
					ValidationFailures.WithLabelValues(fe.Code).Inc()
				}
				resp.Details = toValidationMap(verrs)
			}
			writeJSON(w, http.StatusUnprocessableEntity, resp)
		case settlement.IsRetryable(err):
			RequisitionSaves.WithLabelValues("conflict").Inc()
			writeError(w, http.StatusConflict, "Contract was modified concurrently, reload and retry", err)
		case settlement.IsNotFound(err):
			RequisitionSaves.WithLabelValues("error").Inc()
			writeError(w, http.StatusNotFound, "Not found", err)
		default:
			RequisitionSaves.WithLabelValues("error").Inc()
			writeError(w, http.StatusInternalServerError, "Failed to save requisition", err)
		}
		return
	}

	RequisitionSaves.WithLabelValues("saved").Inc()
	status := http.StatusCreated
	if editing != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, toRequisitionDTO(saved))
}

// GetRequisition returns one requisition.
func (h *Handler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	id := settlement.RequisitionID(chi.URLParam(r, "id"))
	req, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get requisition", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// ListRequisitions returns a contract's requisitions, oldest first.
func (h *Handler) ListRequisitions(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))
	reqs, err := h.Store.ListRequisitions(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list requisitions", err)
		return
	}
	dtos := make([]RequisitionDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toRequisitionDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT REQUESTS
// =============================================================================

// IssuePaymentRequest formalizes a saved requisition's concepts. From
// this moment they count as consumed for every other requisition.
func (h *Handler) IssuePaymentRequest(w http.ResponseWriter, r *http.Request) {
	id := settlement.RequisitionID(chi.URLParam(r, "id"))
	pr, err := h.Store.IssuePaymentRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to issue payment request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentRequestDTO(pr))
}

// ListPaymentRequests returns a contract's payment requests.
func (h *Handler) ListPaymentRequests(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))
	prs, err := h.Store.ListPaymentRequests(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list payment requests", err)
		return
	}
	dtos := make([]PaymentRequestDTO, len(prs))
	for i, pr := range prs {
		dtos[i] = toPaymentRequestDTO(pr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STATEMENT
// =============================================================================

// GetStatement returns the contract account statement: one row per
// requisition plus running totals against the contract's pools.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := settlement.ContractID(chi.URLParam(r, "id"))

	snap, err := h.Store.LoadSnapshot(r.Context(), id, "")
	if err != nil {
		writeDomainError(w, "Failed to load contract", err)
		return
	}
	view := settlement.ComputeLedger(snap)

	stmt := StatementDTO{
		ContractID:        string(id),
		EffectiveAmount:   f(snap.EffectiveContractAmount()),
		Rows:              make([]StatementRowDTO, len(snap.Requisitions)),
		DisposableAdvance: f(view.DisposableAdvance),
	}

	claimed, amortized, retained := decimal.Zero, decimal.Zero, decimal.Zero
	for i, req := range snap.Requisitions {
		stmt.Rows[i] = StatementRowDTO{
			RequisitionID: string(req.ID),
			Number:        req.Number,
			Status:        string(req.Status),
			BaseAmount:    f(req.BaseAmount),
			Amortization:  f(req.Amortization),
			Retention:     f(req.Retention),
			Total:         f(req.Total),
		}
		claimed = claimed.Add(req.BaseAmount)
		amortized = amortized.Add(req.Amortization)
		retained = retained.Add(req.Retention)
	}
	stmt.TotalClaimed = f(claimed)
	stmt.TotalAmortized = f(amortized)
	stmt.TotalRetained = f(retained)

	writeJSON(w, http.StatusOK, stmt)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// logConsistencyWarning records calculator drift beyond tolerance. A
// data-quality signal for investigation; the pass itself still succeeds.
func logConsistencyWarning(contractID settlement.ContractID, warn *settlement.ConsistencyWarning) {
	log.Printf("Warning: consistency drift on contract %s: %s", contractID, warn)
}

// writeDomainError maps store/domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case settlement.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
