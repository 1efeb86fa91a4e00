/*
retention.go - Retention unit lifecycle

PURPOSE:
  A retention (guarantee-fund) unit is a capped monetary pool that cycles
  through exactly one withhold and exactly one return over the contract's
  life. This file derives the unit's lifecycle state from the payment
  requests that reference it and decides which actions are legal.

STATES:
  Fresh     nothing applied yet            -> may only Apply
  Applied   withheld, not yet returned     -> may only Return
  Returned  a return exists without apply  -> no action (anomalous data)
  Exhausted both a withhold and a return   -> no action, permanently locked

  The state is NOT stored. It is computed once per snapshot load from the
  payment-request scan and carried on RetentionUnit, so every call site
  sees the same answer.

AMOUNTS:
  Quoting an action multiplies a volume (normally 1) by a unit price: the
  disposable ceiling for Apply, the previously withheld amount for Return.
  Apply amounts are signed negative, Return amounts positive. The volume
  is clamped to [0, 1]: a unit can never withhold past its disposable
  ceiling nor return more than was withheld.

ILLEGAL ACTIONS:
  Silently refused (no-op): the UI is expected to only offer legal actions,
  so an illegal request is stale data, not a user mistake worth an error.

SEE ALSO:
  - ledger.go:    Builds RetentionUnit rows via deriveRetentionUnit
  - assembler.go: Emits the counter mutation when an action is saved
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// LIFECYCLE STATE
// =============================================================================

type RetentionStatus string

const (
	RetentionFresh     RetentionStatus = "fresh"
	RetentionApplied   RetentionStatus = "applied"
	RetentionReturned  RetentionStatus = "returned"
	RetentionExhausted RetentionStatus = "exhausted"
)

// deriveRetentionUnit scans payment requests (already filtered to exclude
// the requisition under edit) and produces the unit's current state.
func deriveRetentionUnit(a Amendment, requests []PaymentRequest) RetentionUnit {
	withheld := decimal.Zero
	returned := decimal.Zero
	hasApply := false
	hasReturn := false

	for _, pr := range requests {
		for _, c := range pr.Concepts {
			if c.Kind != ConceptRetention || c.Retention == nil {
				continue
			}
			if c.Retention.AmendmentID != a.ID {
				continue
			}
			switch c.Retention.Action {
			case RetentionApply:
				hasApply = true
				withheld = withheld.Add(c.Retention.Amount.Neg()) // stored negative
			case RetentionReturn:
				hasReturn = true
				returned = returned.Add(c.Retention.Amount)
			}
		}
	}

	status := RetentionFresh
	switch {
	case hasApply && hasReturn:
		status = RetentionExhausted
	case hasApply:
		status = RetentionApplied
	case hasReturn:
		status = RetentionReturned
	}

	return RetentionUnit{
		AmendmentID: a.ID,
		Ceiling:     a.Amount,
		Withheld:    withheld,
		Returned:    returned,
		Disposable:  FloorZero(a.Amount.Sub(withheld)),
		Status:      status,
		Locked:      status == RetentionExhausted || status == RetentionReturned,
	}
}

// =============================================================================
// LEGAL ACTIONS
// =============================================================================

// LegalActions returns the actions permitted in the unit's current state.
func (u RetentionUnit) LegalActions() []RetentionAction {
	switch u.Status {
	case RetentionFresh:
		return []RetentionAction{RetentionApply}
	case RetentionApplied:
		return []RetentionAction{RetentionReturn}
	default:
		return nil
	}
}

// DefaultAction picks the deterministic pre-selection: Apply when only
// Apply is legal, Return when only Return is legal, Apply when both are
// (tolerated, should not normally occur). ok is false when no action is
// legal.
func (u RetentionUnit) DefaultAction() (RetentionAction, bool) {
	actions := u.LegalActions()
	if len(actions) == 0 {
		return "", false
	}
	for _, a := range actions {
		if a == RetentionApply {
			return RetentionApply, true
		}
	}
	return actions[0], true
}

// ActionLegal reports whether the given action may be taken now.
func (u RetentionUnit) ActionLegal(action RetentionAction) bool {
	for _, a := range u.LegalActions() {
		if a == action {
			return true
		}
	}
	return false
}

// Quote computes the signed amount of an action: volume times the unit
// price for that action (disposable ceiling for Apply, previously
// withheld amount for Return), negative for Apply and positive for
// Return. The volume is clamped to [0, 1] first. Illegal actions quote
// zero - the engine silently refuses them.
func (u RetentionUnit) Quote(action RetentionAction, volume decimal.Decimal) (unitPrice, amount decimal.Decimal) {
	if !u.ActionLegal(action) {
		return decimal.Zero, decimal.Zero
	}
	volume = clampVolume(volume)
	switch action {
	case RetentionApply:
		unitPrice = u.Disposable
		amount = volume.Mul(unitPrice).Neg()
	case RetentionReturn:
		unitPrice = u.Withheld
		amount = volume.Mul(unitPrice)
	}
	return unitPrice, amount
}

// clampVolume bounds the quote multiplier to [0, 1]. A volume above 1
// would overdraw the unit's pool; a negative one would flip the sign of
// the action.
func clampVolume(v decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	switch {
	case v.GreaterThan(one):
		return one
	case v.IsNegative():
		return decimal.Zero
	default:
		return v
	}
}
