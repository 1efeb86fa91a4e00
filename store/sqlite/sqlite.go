/*
Package sqlite provides the SQLite-backed implementation of settlement.Store.

PURPOSE:
  Production persistence for contracts, catalog line items, amendments,
  requisitions and payment requests. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  contracts:        Contract aggregates
  line_items:       Catalog line items (original quantities only; current
                    quantities are derived by replaying amendments)
  amendments:       Contract modifications, with the retention cumulative
                    counters and their optimistic-concurrency version
  requisitions:     Draft/submitted payment claims (concepts as JSON)
  payment_requests: Formalized consumption records (concepts as JSON)

ATOMIC SAVE:
  SaveRequisition writes the requisition row and the retention counter
  move inside one database transaction. Both UPDATEs are guarded by
  "WHERE version = ?"; zero rows affected means another writer got there
  first and the whole transaction rolls back with
  settlement.ErrConcurrentModification.

MONEY:
  All decimal values are stored as TEXT via decimal.String() to avoid
  float drift in the database. Timestamps are RFC3339 TEXT.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go:        Interface definition and atomicity contract
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/obrakit/settlement-engine/settlement"
)

// Store implements settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		advance_amount TEXT NOT NULL,
		retention_percent TEXT NOT NULL,
		tax_inclusive BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		code TEXT NOT NULL,
		description TEXT,
		unit TEXT,
		original_quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_contract
		ON line_items(contract_id);

	CREATE TABLE IF NOT EXISTS amendments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		amount TEXT NOT NULL,
		changes_json TEXT,
		effective_at TEXT NOT NULL,
		applied_total TEXT NOT NULL DEFAULT '0',
		returned_total TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_amendments_contract
		ON amendments(contract_id);
	CREATE INDEX IF NOT EXISTS idx_amendments_kind
		ON amendments(contract_id, kind);

	CREATE TABLE IF NOT EXISTS requisitions (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		concepts_json TEXT NOT NULL,
		tax_inclusive BOOLEAN NOT NULL DEFAULT FALSE,
		base_amount TEXT NOT NULL DEFAULT '0',
		amortization TEXT NOT NULL DEFAULT '0',
		retention TEXT NOT NULL DEFAULT '0',
		other_deductions TEXT NOT NULL DEFAULT '0',
		retention_held TEXT NOT NULL DEFAULT '0',
		retention_freed TEXT NOT NULL DEFAULT '0',
		subtotal TEXT NOT NULL DEFAULT '0',
		tax TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(contract_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_requisitions_contract
		ON requisitions(contract_id, number);

	CREATE TABLE IF NOT EXISTS payment_requests (
		id TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL REFERENCES requisitions(id),
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		status TEXT NOT NULL DEFAULT 'issued',
		concepts_json TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_requests_contract
		ON payment_requests(contract_id, issued_at);
	CREATE INDEX IF NOT EXISTS idx_payment_requests_requisition
		ON payment_requests(requisition_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (s *Store) CreateContract(ctx context.Context, c settlement.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = settlement.ContractID(uuid.NewString())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO contracts (id, name, base_amount, advance_amount, retention_percent, tax_inclusive, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name,
		c.BaseAmount.String(), c.AdvanceAmount.String(), c.RetentionPercent.String(),
		c.TaxInclusive, c.Version,
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, id settlement.ContractID) (settlement.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getContract(ctx, id)
}

func (s *Store) getContract(ctx context.Context, id settlement.ContractID) (settlement.Contract, error) {
	var (
		c                             settlement.Contract
		base, advance, pct, createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, base_amount, advance_amount, retention_percent, tax_inclusive, version, created_at FROM contracts WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &base, &advance, &pct, &c.TaxInclusive, &c.Version, &createdAt)

	if err == sql.ErrNoRows {
		return settlement.Contract{}, settlement.ErrContractNotFound
	}
	if err != nil {
		return settlement.Contract{}, err
	}

	c.BaseAmount = parseDecimal(base)
	c.AdvanceAmount = parseDecimal(advance)
	c.RetentionPercent = parseDecimal(pct)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}

func (s *Store) ListContracts(ctx context.Context) ([]settlement.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, base_amount, advance_amount, retention_percent, tax_inclusive, version, created_at FROM contracts ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []settlement.Contract
	for rows.Next() {
		var (
			c                             settlement.Contract
			base, advance, pct, createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &base, &advance, &pct, &c.TaxInclusive, &c.Version, &createdAt); err != nil {
			return nil, err
		}
		c.BaseAmount = parseDecimal(base)
		c.AdvanceAmount = parseDecimal(advance)
		c.RetentionPercent = parseDecimal(pct)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (s *Store) AddLineItems(ctx context.Context, contractID settlement.ContractID, items []settlement.CatalogLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getContract(ctx, contractID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO line_items (id, contract_id, code, description, unit, original_quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, it := range items {
		if it.ID == "" {
			it.ID = settlement.LineItemID(uuid.NewString())
		}
		if _, err := tx.ExecContext(ctx, query,
			it.ID, contractID, it.Code, it.Description, it.Unit,
			it.OriginalQuantity.String(), it.UnitPrice.String(),
		); err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) listLineItems(ctx context.Context, contractID settlement.ContractID) ([]settlement.CatalogLineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, contract_id, code, description, unit, original_quantity, unit_price FROM line_items WHERE contract_id = ? ORDER BY code ASC",
		contractID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []settlement.CatalogLineItem
	for rows.Next() {
		var (
			it         settlement.CatalogLineItem
			qty, price string
		)
		if err := rows.Scan(&it.ID, &it.ContractID, &it.Code, &it.Description, &it.Unit, &qty, &price); err != nil {
			return nil, err
		}
		it.OriginalQuantity = parseDecimal(qty)
		it.UnitPrice = parseDecimal(price)
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// AMENDMENTS
// =============================================================================

func (s *Store) AddAmendment(ctx context.Context, a settlement.Amendment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getContract(ctx, a.ContractID); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = settlement.AmendmentID(uuid.NewString())
	}
	if a.Status == "" {
		a.Status = settlement.AmendmentDraft
	}
	if a.EffectiveAt.IsZero() {
		a.EffectiveAt = time.Now().UTC()
	}

	changesJSON, _ := json.Marshal(a.Changes)

	query := `
		INSERT INTO amendments (id, contract_id, kind, status, amount, changes_json, effective_at, applied_total, returned_total, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ContractID, a.Kind, a.Status,
		a.Amount.String(), string(changesJSON),
		a.EffectiveAt.Format(time.RFC3339),
		a.AppliedTotal.String(), a.ReturnedTotal.String(), a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert amendment: %w", err)
	}
	return nil
}

func (s *Store) SetAmendmentStatus(ctx context.Context, id settlement.AmendmentID, status settlement.AmendmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE amendments SET status = ? WHERE id = ?",
		status, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrAmendmentNotFound
	}
	return nil
}

func (s *Store) listAmendments(ctx context.Context, contractID settlement.ContractID) ([]settlement.Amendment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, kind, status, amount, changes_json, effective_at, applied_total, returned_total, version
		 FROM amendments WHERE contract_id = ? ORDER BY effective_at ASC`,
		contractID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amendments []settlement.Amendment
	for rows.Next() {
		var (
			a                                  settlement.Amendment
			amount, applied, returned, effAt   string
			changesJSON                        sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ContractID, &a.Kind, &a.Status, &amount, &changesJSON, &effAt, &applied, &returned, &a.Version); err != nil {
			return nil, err
		}
		a.Amount = parseDecimal(amount)
		a.AppliedTotal = parseDecimal(applied)
		a.ReturnedTotal = parseDecimal(returned)
		a.EffectiveAt, _ = time.Parse(time.RFC3339, effAt)
		if changesJSON.Valid && changesJSON.String != "" {
			json.Unmarshal([]byte(changesJSON.String), &a.Changes)
		}
		amendments = append(amendments, a)
	}
	return amendments, rows.Err()
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// LoadSnapshot assembles everything one recomputation pass needs. The
// reads run under a single RLock so the snapshot is internally consistent.
func (s *Store) LoadSnapshot(ctx context.Context, contractID settlement.ContractID, editing settlement.RequisitionID) (settlement.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.getContract(ctx, contractID)
	if err != nil {
		return settlement.Snapshot{}, err
	}

	snap := settlement.Snapshot{Contract: c, EditingRequisitionID: editing}

	if snap.Items, err = s.listLineItems(ctx, contractID); err != nil {
		return settlement.Snapshot{}, err
	}
	if snap.Amendments, err = s.listAmendments(ctx, contractID); err != nil {
		return settlement.Snapshot{}, err
	}
	if snap.Requisitions, err = s.listRequisitions(ctx, contractID); err != nil {
		return settlement.Snapshot{}, err
	}
	if snap.PaymentRequests, err = s.listPaymentRequests(ctx, contractID); err != nil {
		return settlement.Snapshot{}, err
	}
	return snap, nil
}

// =============================================================================
// REQUISITIONS
// =============================================================================

// SaveRequisition persists the requisition and the retention counter move
// in one database transaction. Version-guarded UPDATEs detect concurrent
// writers; a conflict rolls everything back.
func (s *Store) SaveRequisition(ctx context.Context, req *settlement.Requisition, mutation *settlement.LedgerMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getContract(ctx, req.ContractID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if mutation != nil {
		if err := s.applyMutationTx(ctx, tx, req.ContractID, mutation); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	isNew := req.ID == ""
	if isNew {
		req.ID = settlement.RequisitionID(uuid.NewString())
		req.CreatedAt = now
		if req.Number == 0 {
			var maxNumber sql.NullInt64
			if err := tx.QueryRowContext(ctx,
				"SELECT MAX(number) FROM requisitions WHERE contract_id = ?",
				req.ContractID,
			).Scan(&maxNumber); err != nil {
				return err
			}
			req.Number = int(maxNumber.Int64) + 1
		}
	}
	if req.Status == "" {
		req.Status = settlement.RequisitionDraft
	}
	for i := range req.Concepts {
		if req.Concepts[i].ID == "" {
			req.Concepts[i].ID = uuid.NewString()
		}
	}
	req.UpdatedAt = now

	conceptsJSON, err := json.Marshal(req.Concepts)
	if err != nil {
		return fmt.Errorf("failed to encode concepts: %w", err)
	}

	if isNew {
		query := `
			INSERT INTO requisitions
			(id, contract_id, number, status, concepts_json, tax_inclusive,
			 base_amount, amortization, retention, other_deductions, retention_held, retention_freed,
			 subtotal, tax, total, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			req.ID, req.ContractID, req.Number, req.Status, string(conceptsJSON), req.TaxInclusive,
			req.BaseAmount.String(), req.Amortization.String(), req.Retention.String(),
			req.OtherDeductions.String(), req.RetentionHeld.String(), req.RetentionFreed.String(),
			req.Subtotal.String(), req.Tax.String(), req.Total.String(),
			req.Version+1,
			req.CreatedAt.Format(time.RFC3339), req.UpdatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to insert requisition: %w", err)
		}
	} else {
		query := `
			UPDATE requisitions SET
				status = ?, concepts_json = ?, tax_inclusive = ?,
				base_amount = ?, amortization = ?, retention = ?, other_deductions = ?,
				retention_held = ?, retention_freed = ?, subtotal = ?, tax = ?, total = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`
		res, err := tx.ExecContext(ctx, query,
			req.Status, string(conceptsJSON), req.TaxInclusive,
			req.BaseAmount.String(), req.Amortization.String(), req.Retention.String(),
			req.OtherDeductions.String(), req.RetentionHeld.String(), req.RetentionFreed.String(),
			req.Subtotal.String(), req.Tax.String(), req.Total.String(),
			req.UpdatedAt.Format(time.RFC3339),
			req.ID, req.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update requisition: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return settlement.ErrConcurrentModification
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requisition: %w", err)
	}
	req.Version++
	return nil
}

// applyMutationTx moves the retention cumulative counters under the
// mutation's version guard.
func (s *Store) applyMutationTx(ctx context.Context, tx *sql.Tx, contractID settlement.ContractID, mutation *settlement.LedgerMutation) error {
	var (
		applied, returned string
		version           int64
	)
	err := tx.QueryRowContext(ctx,
		"SELECT applied_total, returned_total, version FROM amendments WHERE id = ? AND contract_id = ?",
		mutation.AmendmentID, contractID,
	).Scan(&applied, &returned, &version)
	if err == sql.ErrNoRows {
		return settlement.ErrAmendmentNotFound
	}
	if err != nil {
		return err
	}
	if version != mutation.ExpectedVersion {
		return settlement.ErrConcurrentModification
	}

	a := settlement.Amendment{
		AppliedTotal:  parseDecimal(applied),
		ReturnedTotal: parseDecimal(returned),
		Version:       version,
	}
	mutation.ApplyTo(&a)

	res, err := tx.ExecContext(ctx,
		"UPDATE amendments SET applied_total = ?, returned_total = ?, version = ? WHERE id = ? AND version = ?",
		a.AppliedTotal.String(), a.ReturnedTotal.String(), a.Version,
		mutation.AmendmentID, mutation.ExpectedVersion,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrConcurrentModification
	}
	return nil
}

func (s *Store) GetRequisition(ctx context.Context, id settlement.RequisitionID) (settlement.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRequisition(ctx, id)
}

func (s *Store) getRequisition(ctx context.Context, id settlement.RequisitionID) (settlement.Requisition, error) {
	query := requisitionColumns + " FROM requisitions WHERE id = ?"
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return settlement.Requisition{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return settlement.Requisition{}, settlement.ErrRequisitionNotFound
	}
	return scanRequisition(rows)
}

const requisitionColumns = `SELECT id, contract_id, number, status, concepts_json, tax_inclusive,
	base_amount, amortization, retention, other_deductions, retention_held, retention_freed,
	subtotal, tax, total, version, created_at, updated_at`

func (s *Store) ListRequisitions(ctx context.Context, contractID settlement.ContractID) ([]settlement.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listRequisitions(ctx, contractID)
}

func (s *Store) listRequisitions(ctx context.Context, contractID settlement.ContractID) ([]settlement.Requisition, error) {
	query := requisitionColumns + " FROM requisitions WHERE contract_id = ? ORDER BY number ASC"
	rows, err := s.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []settlement.Requisition
	for rows.Next() {
		r, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func scanRequisition(rows *sql.Rows) (settlement.Requisition, error) {
	var (
		r                                                 settlement.Requisition
		conceptsJSON                                      string
		base, amort, ret, otherDed, held, freed           string
		subtotal, tax, total, createdAt, updatedAt        string
	)
	err := rows.Scan(
		&r.ID, &r.ContractID, &r.Number, &r.Status, &conceptsJSON, &r.TaxInclusive,
		&base, &amort, &ret, &otherDed, &held, &freed,
		&subtotal, &tax, &total, &r.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan requisition: %w", err)
	}

	json.Unmarshal([]byte(conceptsJSON), &r.Concepts)
	r.BaseAmount = parseDecimal(base)
	r.Amortization = parseDecimal(amort)
	r.Retention = parseDecimal(ret)
	r.OtherDeductions = parseDecimal(otherDed)
	r.RetentionHeld = parseDecimal(held)
	r.RetentionFreed = parseDecimal(freed)
	r.Subtotal = parseDecimal(subtotal)
	r.Tax = parseDecimal(tax)
	r.Total = parseDecimal(total)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, nil
}

// =============================================================================
// PAYMENT REQUESTS
// =============================================================================

// IssuePaymentRequest copies the requisition's concepts into an issued
// payment request and marks the requisition submitted. From that moment
// the concepts count as consumed.
func (s *Store) IssuePaymentRequest(ctx context.Context, requisitionID settlement.RequisitionID) (settlement.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRequisition(ctx, requisitionID)
	if err != nil {
		return settlement.PaymentRequest{}, err
	}

	pr := settlement.PaymentRequest{
		ID:            settlement.PaymentRequestID(uuid.NewString()),
		RequisitionID: r.ID,
		ContractID:    r.ContractID,
		Status:        settlement.PaymentRequestIssued,
		Concepts:      r.Concepts,
		IssuedAt:      time.Now().UTC(),
	}

	conceptsJSON, err := json.Marshal(pr.Concepts)
	if err != nil {
		return settlement.PaymentRequest{}, fmt.Errorf("failed to encode concepts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return settlement.PaymentRequest{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO payment_requests (id, requisition_id, contract_id, status, concepts_json, issued_at) VALUES (?, ?, ?, ?, ?, ?)",
		pr.ID, pr.RequisitionID, pr.ContractID, pr.Status, string(conceptsJSON),
		pr.IssuedAt.Format(time.RFC3339),
	); err != nil {
		return settlement.PaymentRequest{}, fmt.Errorf("failed to insert payment request: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE requisitions SET status = ?, updated_at = ? WHERE id = ?",
		settlement.RequisitionSubmitted, pr.IssuedAt.Format(time.RFC3339), r.ID,
	); err != nil {
		return settlement.PaymentRequest{}, err
	}

	if err := tx.Commit(); err != nil {
		return settlement.PaymentRequest{}, err
	}
	return pr, nil
}

func (s *Store) ListPaymentRequests(ctx context.Context, contractID settlement.ContractID) ([]settlement.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listPaymentRequests(ctx, contractID)
}

func (s *Store) listPaymentRequests(ctx context.Context, contractID settlement.ContractID) ([]settlement.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, requisition_id, contract_id, status, concepts_json, issued_at FROM payment_requests WHERE contract_id = ? ORDER BY issued_at ASC",
		contractID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []settlement.PaymentRequest
	for rows.Next() {
		var (
			pr           settlement.PaymentRequest
			conceptsJSON string
			issuedAt     string
		)
		if err := rows.Scan(&pr.ID, &pr.RequisitionID, &pr.ContractID, &pr.Status, &conceptsJSON, &issuedAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(conceptsJSON), &pr.Concepts)
		pr.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)
		requests = append(requests, pr)
	}
	return requests, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payment_requests", "requisitions", "amendments", "line_items", "contracts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
