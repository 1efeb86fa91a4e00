/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Money crosses
  the wire as float64; everything internal stays decimal.Decimal.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (parseable JSON, known IDs) happens in handlers.
  Domain validation is the engine's job and comes back as the field-keyed
  "validation" map in RecomputeResponse.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/engine.go: The Selection/Result types these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/obrakit/settlement-engine/settlement"
)

// =============================================================================
// CONTRACT MANAGEMENT
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	BaseAmount       float64 `json:"base_amount"`
	AdvanceAmount    float64 `json:"advance_amount"`
	RetentionPercent float64 `json:"retention_percent"`
	TaxInclusive     bool    `json:"tax_inclusive"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// CreateContractRequest is the request to register a contract.
type CreateContractRequest struct {
	Name             string  `json:"name"`
	BaseAmount       float64 `json:"base_amount"`
	AdvanceAmount    float64 `json:"advance_amount"`
	RetentionPercent float64 `json:"retention_percent"`
	TaxInclusive     bool    `json:"tax_inclusive"`
}

// LineItemRequest is one catalog line item in an add-items request.
type LineItemRequest struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// AddLineItemsRequest is the request to append catalog line items.
type AddLineItemsRequest struct {
	Items []LineItemRequest `json:"items"`
}

// QuantityChangeRequest sets a line item's quantity to a new value.
type QuantityChangeRequest struct {
	LineItemID  string  `json:"line_item_id"`
	NewQuantity float64 `json:"new_quantity"`
}

// CreateAmendmentRequest registers an amendment (draft until applied).
type CreateAmendmentRequest struct {
	Kind        string                  `json:"kind"`
	Amount      float64                 `json:"amount"`
	Changes     []QuantityChangeRequest `json:"changes,omitempty"`
	EffectiveAt string                  `json:"effective_at,omitempty"` // RFC3339; defaults to now
}

// AmendmentDTO represents an amendment in API responses.
type AmendmentDTO struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	EffectiveAt   string  `json:"effective_at"`
	AppliedTotal  float64 `json:"applied_total"`
	ReturnedTotal float64 `json:"returned_total"`
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// ItemAvailabilityDTO is one row of the availability table.
type ItemAvailabilityDTO struct {
	LineItemID       string  `json:"line_item_id"`
	Code             string  `json:"code"`
	Description      string  `json:"description"`
	Unit             string  `json:"unit"`
	UnitPrice        float64 `json:"unit_price"`
	OriginalQuantity float64 `json:"original_quantity"`
	CurrentQuantity  float64 `json:"current_quantity"`
	Amended          bool    `json:"amended"`
	Consumed         float64 `json:"consumed"`
	Available        float64 `json:"available"`
	Locked           bool    `json:"locked"`
}

// DeductionAvailabilityDTO reports a one-time deduction's state.
type DeductionAvailabilityDTO struct {
	AmendmentID string  `json:"amendment_id"`
	Amount      float64 `json:"amount"`
	Locked      bool    `json:"locked"`
}

// RetentionUnitDTO is a retention unit with its lifecycle state and the
// actions the UI may offer.
type RetentionUnitDTO struct {
	AmendmentID   string   `json:"amendment_id"`
	Ceiling       float64  `json:"ceiling"`
	Withheld      float64  `json:"withheld"`
	Returned      float64  `json:"returned"`
	Disposable    float64  `json:"disposable"`
	Status        string   `json:"status"`
	Locked        bool     `json:"locked"`
	LegalActions  []string `json:"legal_actions"`
	DefaultAction string   `json:"default_action,omitempty"`
}

// AvailabilityDTO is the full availability table for one contract.
type AvailabilityDTO struct {
	ContractID        string                     `json:"contract_id"`
	Items             []ItemAvailabilityDTO      `json:"items"`
	Deductions        []DeductionAvailabilityDTO `json:"deductions"`
	Retentions        []RetentionUnitDTO         `json:"retentions"`
	DisposableAdvance float64                    `json:"disposable_advance"`
}

// =============================================================================
// SELECTION AND RECOMPUTE
// =============================================================================

// ItemSelectionRequest claims a quantity from one line item. The manual
// pointers pin the derived fields; absent keeps them auto-managed.
type ItemSelectionRequest struct {
	LineItemID         string   `json:"line_item_id"`
	Quantity           float64  `json:"quantity"`
	ManualAmortization *float64 `json:"manual_amortization,omitempty"`
	ManualRetention    *float64 `json:"manual_retention,omitempty"`
}

// RetentionSelectionRequest activates one retention unit. An empty action
// asks for the unit's default.
type RetentionSelectionRequest struct {
	AmendmentID string  `json:"amendment_id"`
	Action      string  `json:"action,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
}

// SelectionRequest is the complete user input for one recompute or save.
type SelectionRequest struct {
	Items          []ItemSelectionRequest     `json:"items"`
	IncludeAdvance bool                       `json:"include_advance,omitempty"`
	AdvanceAmount  *float64                   `json:"advance_amount,omitempty"`
	DeductionIDs   []string                   `json:"deduction_ids,omitempty"`
	Retention      *RetentionSelectionRequest `json:"retention,omitempty"`
	TaxInclusive   *bool                      `json:"tax_inclusive,omitempty"`
}

// DerivedFieldDTO carries a derived value with its source so the UI can
// mark pinned fields.
type DerivedFieldDTO struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

// ConceptDTO is one requisition line. Kind-specific fields are omitted
// when empty.
type ConceptDTO struct {
	ID   string `json:"id,omitempty"`
	Kind string `json:"kind"`

	LineItemID   string           `json:"line_item_id,omitempty"`
	Description  string           `json:"description,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	Quantity     float64          `json:"quantity,omitempty"`
	UnitPrice    float64          `json:"unit_price,omitempty"`
	Amount       float64          `json:"amount"`
	Amortization *DerivedFieldDTO `json:"amortization,omitempty"`
	Retention    *DerivedFieldDTO `json:"retention,omitempty"`

	AmendmentID string  `json:"amendment_id,omitempty"`
	Action      string  `json:"action,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
}

// TotalsDTO is the financial breakdown of the pass.
type TotalsDTO struct {
	BaseAmount      float64 `json:"base_amount"`
	AdvancePayout   float64 `json:"advance_payout"`
	Amortization    float64 `json:"amortization"`
	Retention       float64 `json:"retention"`
	OtherDeductions float64 `json:"other_deductions"`
	RetentionHeld   float64 `json:"retention_held"`
	RetentionFreed  float64 `json:"retention_freed"`
	Subtotal        float64 `json:"subtotal"`
	Tax             float64 `json:"tax"`
	Total           float64 `json:"total"`
	Warning         string  `json:"warning,omitempty"`
}

// FieldErrorDTO is one validation failure.
type FieldErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RecomputeResponse is the outcome of one pass: everything the UI needs
// to redraw the requisition being drafted.
type RecomputeResponse struct {
	Availability AvailabilityDTO            `json:"availability"`
	Concepts     []ConceptDTO               `json:"concepts"`
	Totals       TotalsDTO                  `json:"totals"`
	TaxInclusive bool                       `json:"tax_inclusive"`
	Valid        bool                       `json:"valid"`
	Validation   map[string][]FieldErrorDTO `json:"validation,omitempty"`

	// AmortizationCapped flags that the aggregate hit the disposable
	// advance ceiling.
	AmortizationCapped bool `json:"amortization_capped,omitempty"`

	RetentionOptions *RetentionUnitDTO `json:"retention_options,omitempty"`
}

// =============================================================================
// REQUISITIONS AND PAYMENT REQUESTS
// =============================================================================

// RequisitionDTO represents a saved requisition.
type RequisitionDTO struct {
	ID           string       `json:"id"`
	ContractID   string       `json:"contract_id"`
	Number       int          `json:"number"`
	Status       string       `json:"status"`
	Concepts     []ConceptDTO `json:"concepts"`
	TaxInclusive bool         `json:"tax_inclusive"`
	Totals       TotalsDTO    `json:"totals"`
	Version      int64        `json:"version"`
	CreatedAt    string       `json:"created_at,omitempty"`
	UpdatedAt    string       `json:"updated_at,omitempty"`
}

// SaveRequisitionRequest saves a selection as a requisition. Version must
// match the stored requisition when editing.
type SaveRequisitionRequest struct {
	Selection SelectionRequest `json:"selection"`
	Version   int64            `json:"version,omitempty"`
}

// PaymentRequestDTO represents a formalized payment request.
type PaymentRequestDTO struct {
	ID            string       `json:"id"`
	RequisitionID string       `json:"requisition_id"`
	ContractID    string       `json:"contract_id"`
	Status        string       `json:"status"`
	Concepts      []ConceptDTO `json:"concepts"`
	IssuedAt      string       `json:"issued_at"`
}

// StatementRowDTO is one requisition line of the account statement.
type StatementRowDTO struct {
	RequisitionID string  `json:"requisition_id"`
	Number        int     `json:"number"`
	Status        string  `json:"status"`
	BaseAmount    float64 `json:"base_amount"`
	Amortization  float64 `json:"amortization"`
	Retention     float64 `json:"retention"`
	Total         float64 `json:"total"`
}

// StatementDTO is the contract account statement: per-requisition rows
// plus running aggregates against the contract's pools.
type StatementDTO struct {
	ContractID        string            `json:"contract_id"`
	EffectiveAmount   float64           `json:"effective_amount"`
	Rows              []StatementRowDTO `json:"rows"`
	TotalClaimed      float64           `json:"total_claimed"`
	TotalAmortized    float64           `json:"total_amortized"`
	TotalRetained     float64           `json:"total_retained"`
	DisposableAdvance float64           `json:"disposable_advance"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func f(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func toContractDTO(c settlement.Contract) ContractDTO {
	return ContractDTO{
		ID:               string(c.ID),
		Name:             c.Name,
		BaseAmount:       f(c.BaseAmount),
		AdvanceAmount:    f(c.AdvanceAmount),
		RetentionPercent: f(c.RetentionPercent),
		TaxInclusive:     c.TaxInclusive,
		CreatedAt:        c.CreatedAt.Format(time.RFC3339),
	}
}

func toAmendmentDTO(a settlement.Amendment) AmendmentDTO {
	return AmendmentDTO{
		ID:            string(a.ID),
		Kind:          string(a.Kind),
		Status:        string(a.Status),
		Amount:        f(a.Amount),
		EffectiveAt:   a.EffectiveAt.Format(time.RFC3339),
		AppliedTotal:  f(a.AppliedTotal),
		ReturnedTotal: f(a.ReturnedTotal),
	}
}

func toAvailabilityDTO(view *settlement.LedgerView) AvailabilityDTO {
	dto := AvailabilityDTO{
		ContractID:        string(view.ContractID),
		Items:             make([]ItemAvailabilityDTO, len(view.Items)),
		Deductions:        make([]DeductionAvailabilityDTO, len(view.Deductions)),
		Retentions:        make([]RetentionUnitDTO, len(view.Retentions)),
		DisposableAdvance: f(view.DisposableAdvance),
	}
	for i, row := range view.Items {
		dto.Items[i] = ItemAvailabilityDTO{
			LineItemID:       string(row.LineItemID),
			Code:             row.Code,
			Description:      row.Description,
			Unit:             row.Unit,
			UnitPrice:        f(row.UnitPrice),
			OriginalQuantity: f(row.OriginalQuantity),
			CurrentQuantity:  f(row.CurrentQuantity),
			Amended:          row.Amended,
			Consumed:         f(row.Consumed),
			Available:        f(row.Available),
			Locked:           row.Locked,
		}
	}
	for i, row := range view.Deductions {
		dto.Deductions[i] = DeductionAvailabilityDTO{
			AmendmentID: string(row.AmendmentID),
			Amount:      f(row.Amount),
			Locked:      row.Locked,
		}
	}
	for i, unit := range view.Retentions {
		dto.Retentions[i] = toRetentionUnitDTO(unit)
	}
	return dto
}

func toRetentionUnitDTO(unit settlement.RetentionUnit) RetentionUnitDTO {
	dto := RetentionUnitDTO{
		AmendmentID:  string(unit.AmendmentID),
		Ceiling:      f(unit.Ceiling),
		Withheld:     f(unit.Withheld),
		Returned:     f(unit.Returned),
		Disposable:   f(unit.Disposable),
		Status:       string(unit.Status),
		Locked:       unit.Locked,
		LegalActions: []string{},
	}
	for _, a := range unit.LegalActions() {
		dto.LegalActions = append(dto.LegalActions, string(a))
	}
	if def, ok := unit.DefaultAction(); ok {
		dto.DefaultAction = string(def)
	}
	return dto
}

func toDerivedFieldDTO(df settlement.DerivedField) *DerivedFieldDTO {
	return &DerivedFieldDTO{Value: f(df.Value), Source: string(df.Source)}
}

func toConceptDTO(c settlement.Concept) ConceptDTO {
	dto := ConceptDTO{ID: c.ID, Kind: string(c.Kind), Amount: f(c.Amount())}
	switch c.Kind {
	case settlement.ConceptNormal:
		if c.Normal != nil {
			dto.LineItemID = string(c.Normal.LineItemID)
			dto.Description = c.Normal.Description
			dto.Unit = c.Normal.Unit
			dto.Quantity = f(c.Normal.Quantity)
			dto.UnitPrice = f(c.Normal.UnitPrice)
			dto.Amortization = toDerivedFieldDTO(c.Normal.Amortization)
			dto.Retention = toDerivedFieldDTO(c.Normal.Retention)
		}
	case settlement.ConceptSpecialDeduction:
		if c.Deduction != nil {
			dto.AmendmentID = string(c.Deduction.AmendmentID)
			dto.Description = c.Deduction.Description
			dto.Unit = c.Deduction.Unit
		}
	case settlement.ConceptRetention:
		if c.Retention != nil {
			dto.AmendmentID = string(c.Retention.AmendmentID)
			dto.Action = string(c.Retention.Action)
			dto.Volume = f(c.Retention.Volume)
			dto.UnitPrice = f(c.Retention.UnitPrice)
		}
	}
	return dto
}

func toConceptDTOs(concepts []settlement.Concept) []ConceptDTO {
	dtos := make([]ConceptDTO, len(concepts))
	for i, c := range concepts {
		dtos[i] = toConceptDTO(c)
	}
	return dtos
}

func toTotalsDTO(t settlement.Totals) TotalsDTO {
	dto := TotalsDTO{
		BaseAmount:      f(t.BaseAmount),
		AdvancePayout:   f(t.AdvancePayout),
		Amortization:    f(t.Amortization),
		Retention:       f(t.Retention),
		OtherDeductions: f(t.OtherDeductions),
		RetentionHeld:   f(t.RetentionHeld),
		RetentionFreed:  f(t.RetentionFreed),
		Subtotal:        f(t.Subtotal),
		Tax:             f(t.Tax),
		Total:           f(t.Total),
	}
	if t.Warning != nil {
		dto.Warning = t.Warning.String()
	}
	return dto
}

func toValidationMap(verrs *settlement.ValidationErrors) map[string][]FieldErrorDTO {
	if verrs == nil {
		return nil
	}
	out := make(map[string][]FieldErrorDTO)
	for field, errs := range verrs.ByField() {
		for _, fe := range errs {
			out[field] = append(out[field], FieldErrorDTO{Code: fe.Code, Message: fe.Message})
		}
	}
	return out
}

func toRecomputeResponse(result settlement.Result) RecomputeResponse {
	resp := RecomputeResponse{
		Availability:       toAvailabilityDTO(result.View),
		Concepts:           toConceptDTOs(result.Concepts),
		Totals:             toTotalsDTO(result.Totals),
		TaxInclusive:       result.TaxInclusive,
		Valid:              result.Valid(),
		Validation:         toValidationMap(result.Validation),
		AmortizationCapped: result.Allocation.AmortizationCapped,
	}
	if result.RetentionOptions != nil {
		unit := toRetentionUnitDTO(result.RetentionOptions.Unit)
		resp.RetentionOptions = &unit
	}
	return resp
}

func toRequisitionDTO(r settlement.Requisition) RequisitionDTO {
	return RequisitionDTO{
		ID:           string(r.ID),
		ContractID:   string(r.ContractID),
		Number:       r.Number,
		Status:       string(r.Status),
		Concepts:     toConceptDTOs(r.Concepts),
		TaxInclusive: r.TaxInclusive,
		Totals: TotalsDTO{
			BaseAmount:      f(r.BaseAmount),
			Amortization:    f(r.Amortization),
			Retention:       f(r.Retention),
			OtherDeductions: f(r.OtherDeductions),
			RetentionHeld:   f(r.RetentionHeld),
			RetentionFreed:  f(r.RetentionFreed),
			Subtotal:        f(r.Subtotal),
			Tax:             f(r.Tax),
			Total:           f(r.Total),
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func toPaymentRequestDTO(pr settlement.PaymentRequest) PaymentRequestDTO {
	return PaymentRequestDTO{
		ID:            string(pr.ID),
		RequisitionID: string(pr.RequisitionID),
		ContractID:    string(pr.ContractID),
		Status:        string(pr.Status),
		Concepts:      toConceptDTOs(pr.Concepts),
		IssuedAt:      pr.IssuedAt.Format(time.RFC3339),
	}
}

// toSelection converts the wire selection into engine input. Floats enter
// the decimal domain exactly once, here.
func toSelection(req SelectionRequest) settlement.Selection {
	sel := settlement.Selection{
		IncludeAdvance: req.IncludeAdvance,
		TaxInclusive:   req.TaxInclusive,
	}
	for _, it := range req.Items {
		is := settlement.ItemSelection{
			LineItemID: settlement.LineItemID(it.LineItemID),
			Quantity:   decimal.NewFromFloat(it.Quantity),
		}
		if it.ManualAmortization != nil {
			v := decimal.NewFromFloat(*it.ManualAmortization)
			is.ManualAmortization = &v
		}
		if it.ManualRetention != nil {
			v := decimal.NewFromFloat(*it.ManualRetention)
			is.ManualRetention = &v
		}
		sel.Items = append(sel.Items, is)
	}
	if req.AdvanceAmount != nil {
		v := decimal.NewFromFloat(*req.AdvanceAmount)
		sel.AdvanceAmount = &v
	}
	for _, id := range req.DeductionIDs {
		sel.DeductionIDs = append(sel.DeductionIDs, settlement.AmendmentID(id))
	}
	if req.Retention != nil {
		sel.Retention = &settlement.RetentionSelection{
			AmendmentID: settlement.AmendmentID(req.Retention.AmendmentID),
			Action:      settlement.RetentionAction(req.Retention.Action),
			Volume:      decimal.NewFromFloat(req.Retention.Volume),
		}
	}
	return sel
}
