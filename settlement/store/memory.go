// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obrakit/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu              sync.RWMutex
	contracts       map[settlement.ContractID]settlement.Contract
	items           map[settlement.ContractID][]settlement.CatalogLineItem
	amendments      map[settlement.ContractID][]settlement.Amendment
	requisitions    map[settlement.RequisitionID]settlement.Requisition
	paymentRequests map[settlement.ContractID][]settlement.PaymentRequest
}

func NewMemory() *Memory {
	return &Memory{
		contracts:       make(map[settlement.ContractID]settlement.Contract),
		items:           make(map[settlement.ContractID][]settlement.CatalogLineItem),
		amendments:      make(map[settlement.ContractID][]settlement.Amendment),
		requisitions:    make(map[settlement.RequisitionID]settlement.Requisition),
		paymentRequests: make(map[settlement.ContractID][]settlement.PaymentRequest),
	}
}

func (m *Memory) CreateContract(_ context.Context, c settlement.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = settlement.ContractID(uuid.NewString())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.contracts[c.ID] = c
	return nil
}

func (m *Memory) GetContract(_ context.Context, id settlement.ContractID) (settlement.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return settlement.Contract{}, settlement.ErrContractNotFound
	}
	return c, nil
}

func (m *Memory) ListContracts(_ context.Context) ([]settlement.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settlement.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AddLineItems(_ context.Context, contractID settlement.ContractID, items []settlement.CatalogLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[contractID]; !ok {
		return settlement.ErrContractNotFound
	}
	for _, it := range items {
		if it.ID == "" {
			it.ID = settlement.LineItemID(uuid.NewString())
		}
		it.ContractID = contractID
		m.items[contractID] = append(m.items[contractID], it)
	}
	return nil
}

func (m *Memory) AddAmendment(_ context.Context, a settlement.Amendment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contracts[a.ContractID]; !ok {
		return settlement.ErrContractNotFound
	}
	if a.ID == "" {
		a.ID = settlement.AmendmentID(uuid.NewString())
	}
	if a.Status == "" {
		a.Status = settlement.AmendmentDraft
	}
	if a.EffectiveAt.IsZero() {
		a.EffectiveAt = time.Now()
	}
	m.amendments[a.ContractID] = append(m.amendments[a.ContractID], a)
	return nil
}

func (m *Memory) SetAmendmentStatus(_ context.Context, id settlement.AmendmentID, status settlement.AmendmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cid, list := range m.amendments {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = status
				m.amendments[cid] = list
				return nil
			}
		}
	}
	return settlement.ErrAmendmentNotFound
}

func (m *Memory) LoadSnapshot(_ context.Context, contractID settlement.ContractID, editing settlement.RequisitionID) (settlement.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[contractID]
	if !ok {
		return settlement.Snapshot{}, settlement.ErrContractNotFound
	}

	snap := settlement.Snapshot{
		Contract:             c,
		Items:                append([]settlement.CatalogLineItem{}, m.items[contractID]...),
		Amendments:           append([]settlement.Amendment{}, m.amendments[contractID]...),
		PaymentRequests:      append([]settlement.PaymentRequest{}, m.paymentRequests[contractID]...),
		EditingRequisitionID: editing,
	}
	for _, r := range m.requisitions {
		if r.ContractID == contractID {
			snap.Requisitions = append(snap.Requisitions, r)
		}
	}
	sort.Slice(snap.Requisitions, func(i, j int) bool {
		return snap.Requisitions[i].Number < snap.Requisitions[j].Number
	})
	return snap, nil
}

// SaveRequisition persists requisition and mutation atomically. The
// single lock makes the memory store trivially transactional.
func (m *Memory) SaveRequisition(_ context.Context, req *settlement.Requisition, mutation *settlement.LedgerMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contracts[req.ContractID]; !ok {
		return settlement.ErrContractNotFound
	}

	// All version checks run before anything is written; a conflict on
	// either record leaves both untouched.
	if req.ID != "" {
		if existing, ok := m.requisitions[req.ID]; ok && existing.Version != req.Version {
			return settlement.ErrConcurrentModification
		}
	}
	if mutation != nil {
		list := m.amendments[req.ContractID]
		idx := -1
		for i := range list {
			if list[i].ID == mutation.AmendmentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return settlement.ErrAmendmentNotFound
		}
		if list[idx].Version != mutation.ExpectedVersion {
			return settlement.ErrConcurrentModification
		}
		mutation.ApplyTo(&list[idx])
		m.amendments[req.ContractID] = list
	}

	now := time.Now()
	if req.ID == "" {
		req.ID = settlement.RequisitionID(uuid.NewString())
		req.Number = m.nextNumberLocked(req.ContractID)
		req.CreatedAt = now
	}
	for i := range req.Concepts {
		if req.Concepts[i].ID == "" {
			req.Concepts[i].ID = uuid.NewString()
		}
	}
	if req.Status == "" {
		req.Status = settlement.RequisitionDraft
	}
	req.UpdatedAt = now
	req.Version++
	m.requisitions[req.ID] = *req
	return nil
}

func (m *Memory) nextNumberLocked(contractID settlement.ContractID) int {
	n := 0
	for _, r := range m.requisitions {
		if r.ContractID == contractID && r.Number > n {
			n = r.Number
		}
	}
	return n + 1
}

func (m *Memory) GetRequisition(_ context.Context, id settlement.RequisitionID) (settlement.Requisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requisitions[id]
	if !ok {
		return settlement.Requisition{}, settlement.ErrRequisitionNotFound
	}
	return r, nil
}

func (m *Memory) ListRequisitions(_ context.Context, contractID settlement.ContractID) ([]settlement.Requisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.Requisition
	for _, r := range m.requisitions {
		if r.ContractID == contractID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) IssuePaymentRequest(_ context.Context, requisitionID settlement.RequisitionID) (settlement.PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requisitions[requisitionID]
	if !ok {
		return settlement.PaymentRequest{}, settlement.ErrRequisitionNotFound
	}

	pr := settlement.PaymentRequest{
		ID:            settlement.PaymentRequestID(uuid.NewString()),
		RequisitionID: r.ID,
		ContractID:    r.ContractID,
		Status:        settlement.PaymentRequestIssued,
		Concepts:      append([]settlement.Concept{}, r.Concepts...),
		IssuedAt:      time.Now(),
	}
	m.paymentRequests[r.ContractID] = append(m.paymentRequests[r.ContractID], pr)

	r.Status = settlement.RequisitionSubmitted
	r.UpdatedAt = pr.IssuedAt
	m.requisitions[r.ID] = r
	return pr, nil
}

func (m *Memory) ListPaymentRequests(_ context.Context, contractID settlement.ContractID) ([]settlement.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]settlement.PaymentRequest{}, m.paymentRequests[contractID]...), nil
}
