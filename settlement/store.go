/*
store.go - Persistence collaborator interface

PURPOSE:
  Defines the boundary between the pure engine and whatever persists
  contracts, requisitions, and payment requests. The engine consumes
  snapshots and returns validated mutations; the Store is the collaborator
  that loads the former and commits the latter.

THE ONE HARD RULE:
  SaveRequisition commits the requisition AND its retention counter
  mutation in a single transaction. A requisition saved without the
  counter update (or the reverse) silently corrupts the contract's shared
  pools - the exact failure mode the atomicity contract exists to prevent.

CONCURRENCY:
  Two users can draft requisitions against the same contract's shared
  pools. Contract-scoped aggregates carry a version; a save whose
  expected version has moved fails with ErrConcurrentModification, and
  the caller reloads a fresh snapshot and retries (RetryOnConflict).
  This upgrades the original last-write-wins behavior; the engine's pure
  functions are unaffected, only the commit step checks versions.

IMPLEMENTATIONS:
  - settlement/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:     Production SQLite

SEE ALSO:
  - snapshot.go:  What LoadSnapshot must produce
  - assembler.go: Where LedgerMutation comes from
*/
package settlement

import "context"

// Store is the persistence collaborator.
type Store interface {
	// CreateContract registers a new contract.
	CreateContract(ctx context.Context, c Contract) error

	// GetContract returns a contract or ErrContractNotFound.
	GetContract(ctx context.Context, id ContractID) (Contract, error)

	// ListContracts returns every contract, oldest first.
	ListContracts(ctx context.Context) ([]Contract, error)

	// AddLineItems appends catalog line items to a contract.
	AddLineItems(ctx context.Context, contractID ContractID, items []CatalogLineItem) error

	// AddAmendment registers an amendment in draft status.
	AddAmendment(ctx context.Context, a Amendment) error

	// SetAmendmentStatus moves an amendment to applied/approved. Only
	// effective amendments reach the ledger.
	SetAmendmentStatus(ctx context.Context, id AmendmentID, status AmendmentStatus) error

	// LoadSnapshot loads everything one recomputation pass needs.
	// editing may be empty when drafting a new requisition.
	LoadSnapshot(ctx context.Context, contractID ContractID, editing RequisitionID) (Snapshot, error)

	// SaveRequisition persists the requisition and, when mutation is
	// non-nil, the retention counter move - atomically, under the
	// mutation's version check. Returns ErrConcurrentModification when
	// the amendment version has moved since the snapshot was loaded.
	SaveRequisition(ctx context.Context, req *Requisition, mutation *LedgerMutation) error

	// GetRequisition returns a requisition or ErrRequisitionNotFound.
	GetRequisition(ctx context.Context, id RequisitionID) (Requisition, error)

	// ListRequisitions returns a contract's requisitions, oldest first.
	ListRequisitions(ctx context.Context, contractID ContractID) ([]Requisition, error)

	// IssuePaymentRequest formalizes a saved requisition's concepts into
	// a payment request. From that moment the concepts count as consumed.
	IssuePaymentRequest(ctx context.Context, requisitionID RequisitionID) (PaymentRequest, error)

	// ListPaymentRequests returns a contract's payment requests.
	ListPaymentRequests(ctx context.Context, contractID ContractID) ([]PaymentRequest, error)
}

// RetryOnConflict re-runs fn while it fails with a retryable conflict,
// up to attempts times. fn must reload its snapshot each try.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}
