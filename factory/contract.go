/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON contract definitions into settlement.Contract, catalog
  line items, and amendments. This enables contract setup without code
  changes - an estimator can describe a contract in JSON, and the factory
  creates the proper Go structs ready for the store.

WHY JSON?
  - Non-developers can author contract fixtures
  - Easy integration with an import UI
  - Version control for demo/seed data
  - One format for tests, seeds, and migration tooling

JSON SCHEMA:
  {
    "name": "Road section 4",
    "base_amount": 100000,
    "advance_amount": 30000,
    "retention_percent": 10,
    "tax_inclusive": true,
    "items": [
      {"code": "C-01", "description": "Structural concrete",
       "unit": "m3", "quantity": 100, "unit_price": 500}
    ],
    "amendments": [
      {"kind": "retention", "amount": 8000, "applied": true},
      {"kind": "additive", "applied": true, "effective_at": "2026-03-01T00:00:00Z",
       "changes": [{"item_code": "C-01", "new_quantity": 120}]}
    ]
  }

KEY FEATURES:
  - Validates structure and amendment kinds
  - Amendment changes reference items by catalog code, resolved to the
    generated line item IDs
  - "applied" moves the amendment straight to its effective status
    (approved for extra work, applied otherwise)

USAGE:
  f := factory.NewContractFactory()

  // From JSON string
  bundle, err := f.ParseContract(jsonString)

  // From preset (recommended for seeding)
  bundle, err := f.ParseContract(factory.DemoContractJSON())

  // Load into a store
  err = bundle.Load(ctx, store)

SEE ALSO:
  - settlement/types.go: Contract, CatalogLineItem, Amendment
  - cmd/settlementd/main.go: The seed command
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/obrakit/settlement-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a contract fixture.
type ContractJSON struct {
	Name             string          `json:"name"`
	BaseAmount       float64         `json:"base_amount"`
	AdvanceAmount    float64         `json:"advance_amount"`
	RetentionPercent float64         `json:"retention_percent"`
	TaxInclusive     bool            `json:"tax_inclusive,omitempty"`
	Items            []ItemJSON      `json:"items"`
	Amendments       []AmendmentJSON `json:"amendments,omitempty"`
}

// ItemJSON is one catalog line item.
type ItemJSON struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// AmendmentJSON is one amendment. Changes reference items by catalog
// code; the factory resolves them to line item IDs.
type AmendmentJSON struct {
	Kind        string       `json:"kind"` // additive, deductive, extra, special_deduction, retention
	Amount      float64      `json:"amount,omitempty"`
	Applied     bool         `json:"applied,omitempty"`
	EffectiveAt string       `json:"effective_at,omitempty"` // RFC3339
	Changes     []ChangeJSON `json:"changes,omitempty"`
}

// ChangeJSON sets one item's catalog quantity to a new value.
type ChangeJSON struct {
	ItemCode    string  `json:"item_code"`
	NewQuantity float64 `json:"new_quantity"`
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

// Bundle is a fully resolved contract fixture ready to persist.
type Bundle struct {
	Contract   settlement.Contract
	Items      []settlement.CatalogLineItem
	Amendments []settlement.Amendment
}

// ContractFactory converts JSON contract fixtures to Go structs.
type ContractFactory struct{}

// NewContractFactory creates a new contract factory.
func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseContract parses a JSON string into a Bundle.
func (f *ContractFactory) ParseContract(jsonStr string) (*Bundle, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse contract JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ContractJSON to a Bundle. IDs are generated here so
// amendment changes can be resolved against the items in the same fixture.
func (f *ContractFactory) FromJSON(cj ContractJSON) (*Bundle, error) {
	if cj.Name == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	if len(cj.Items) == 0 {
		return nil, fmt.Errorf("contract %q has no catalog items", cj.Name)
	}

	b := &Bundle{
		Contract: settlement.Contract{
			ID:               settlement.ContractID(uuid.NewString()),
			Name:             cj.Name,
			BaseAmount:       decimal.NewFromFloat(cj.BaseAmount),
			AdvanceAmount:    decimal.NewFromFloat(cj.AdvanceAmount),
			RetentionPercent: decimal.NewFromFloat(cj.RetentionPercent),
			TaxInclusive:     cj.TaxInclusive,
			CreatedAt:        time.Now().UTC(),
		},
	}

	byCode := make(map[string]settlement.LineItemID, len(cj.Items))
	for _, ij := range cj.Items {
		if ij.Code == "" {
			return nil, fmt.Errorf("catalog item without code in contract %q", cj.Name)
		}
		if _, dup := byCode[ij.Code]; dup {
			return nil, fmt.Errorf("duplicate catalog code %q", ij.Code)
		}
		item := settlement.CatalogLineItem{
			ID:               settlement.LineItemID(uuid.NewString()),
			ContractID:       b.Contract.ID,
			Code:             ij.Code,
			Description:      ij.Description,
			Unit:             ij.Unit,
			OriginalQuantity: decimal.NewFromFloat(ij.Quantity),
			UnitPrice:        decimal.NewFromFloat(ij.UnitPrice),
		}
		byCode[ij.Code] = item.ID
		b.Items = append(b.Items, item)
	}

	for i, aj := range cj.Amendments {
		a, err := parseAmendment(aj, b.Contract.ID, byCode)
		if err != nil {
			return nil, fmt.Errorf("amendment %d: %w", i, err)
		}
		b.Amendments = append(b.Amendments, a)
	}

	return b, nil
}

// Load persists the bundle through a store.
func (b *Bundle) Load(ctx context.Context, store settlement.Store) error {
	if err := store.CreateContract(ctx, b.Contract); err != nil {
		return fmt.Errorf("create contract %q: %w", b.Contract.Name, err)
	}
	if err := store.AddLineItems(ctx, b.Contract.ID, b.Items); err != nil {
		return fmt.Errorf("add items: %w", err)
	}
	for _, a := range b.Amendments {
		status := a.Status
		a.Status = settlement.AmendmentDraft
		if err := store.AddAmendment(ctx, a); err != nil {
			return fmt.Errorf("add amendment %s: %w", a.ID, err)
		}
		if status != settlement.AmendmentDraft {
			if err := store.SetAmendmentStatus(ctx, a.ID, status); err != nil {
				return fmt.Errorf("apply amendment %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAmendment(aj AmendmentJSON, contractID settlement.ContractID, byCode map[string]settlement.LineItemID) (settlement.Amendment, error) {
	kind, err := parseKind(aj.Kind)
	if err != nil {
		return settlement.Amendment{}, err
	}

	a := settlement.Amendment{
		ID:          settlement.AmendmentID(uuid.NewString()),
		ContractID:  contractID,
		Kind:        kind,
		Status:      settlement.AmendmentDraft,
		Amount:      decimal.NewFromFloat(aj.Amount),
		EffectiveAt: time.Now().UTC(),
	}
	if aj.EffectiveAt != "" {
		t, err := time.Parse(time.RFC3339, aj.EffectiveAt)
		if err != nil {
			return settlement.Amendment{}, fmt.Errorf("invalid effective_at: %w", err)
		}
		a.EffectiveAt = t
	}

	switch kind {
	case settlement.AmendmentAdditive, settlement.AmendmentDeductive:
		if len(aj.Changes) == 0 {
			return settlement.Amendment{}, fmt.Errorf("%s amendment requires changes", kind)
		}
		for _, ch := range aj.Changes {
			itemID, ok := byCode[ch.ItemCode]
			if !ok {
				return settlement.Amendment{}, fmt.Errorf("unknown item code %q", ch.ItemCode)
			}
			a.Changes = append(a.Changes, settlement.QuantityChange{
				LineItemID:  itemID,
				NewQuantity: decimal.NewFromFloat(ch.NewQuantity),
			})
		}
	default:
		if aj.Amount <= 0 {
			return settlement.Amendment{}, fmt.Errorf("%s amendment requires a positive amount", kind)
		}
	}

	if aj.Applied {
		a.Status = settlement.AmendmentApplied
		if kind == settlement.AmendmentExtra {
			a.Status = settlement.AmendmentApproved
		}
	}
	return a, nil
}

func parseKind(s string) (settlement.AmendmentKind, error) {
	switch settlement.AmendmentKind(s) {
	case settlement.AmendmentAdditive, settlement.AmendmentDeductive,
		settlement.AmendmentExtra, settlement.AmendmentSpecialDeduction,
		settlement.AmendmentRetention:
		return settlement.AmendmentKind(s), nil
	default:
		return "", fmt.Errorf("unknown amendment kind %q", s)
	}
}

// =============================================================================
// PRESET FIXTURES
// =============================================================================

// DemoContractJSON returns the fixture loaded by the seed command: a
// mid-size civil works contract with a quantity amendment already
// applied and every amendment kind represented.
func DemoContractJSON() string {
	return `{
  "name": "Riverside bridge rehabilitation",
  "base_amount": 1200000,
  "advance_amount": 360000,
  "retention_percent": 10,
  "items": [
    {"code": "DEM-01", "description": "Deck demolition", "unit": "m2", "quantity": 800, "unit_price": 120},
    {"code": "CON-01", "description": "Structural concrete f'c=350", "unit": "m3", "quantity": 450, "unit_price": 1100},
    {"code": "STL-01", "description": "Reinforcing steel", "unit": "ton", "quantity": 60, "unit_price": 2400},
    {"code": "EXP-01", "description": "Expansion joint replacement", "unit": "ml", "quantity": 96, "unit_price": 950}
  ],
  "amendments": [
    {"kind": "additive", "applied": true, "effective_at": "2026-04-15T00:00:00Z",
     "changes": [{"item_code": "CON-01", "new_quantity": 510}]},
    {"kind": "extra", "amount": 85000, "applied": true},
    {"kind": "special_deduction", "amount": 15000, "applied": true},
    {"kind": "retention", "amount": 48000, "applied": true}
  ]
}`
}
