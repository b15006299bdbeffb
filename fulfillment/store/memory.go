// Package store provides the in-memory OrderCatalog.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/eggstand/fulfillment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	orders   map[fulfillment.OrderID]*fulfillment.Order
	audit    map[fulfillment.OrderID][]fulfillment.AuditLogEntry
	auditIDs map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[fulfillment.OrderID]*fulfillment.Order),
		audit:    make(map[fulfillment.OrderID][]fulfillment.AuditLogEntry),
		auditIDs: make(map[string]bool),
	}
}

// CreateOrder stores a copy of order at version 1.
func (m *Memory) CreateOrder(_ context.Context, order *fulfillment.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; ok {
		return fulfillment.ErrAlreadyExists
	}
	order.Version = 1
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id fulfillment.OrderID) (*fulfillment.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, &fulfillment.NotFoundError{OrderID: id}
	}
	return o.Clone(), nil
}

// SaveOrder replaces the stored order if the versions match.
func (m *Memory) SaveOrder(_ context.Context, order *fulfillment.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[order.ID]
	if !ok {
		return &fulfillment.NotFoundError{OrderID: order.ID}
	}
	if current.Version != order.Version {
		return fulfillment.ErrConflict
	}
	order.Version++
	m.orders[order.ID] = order.Clone()
	return nil
}

// ListOrders returns copies, newest first.
func (m *Memory) ListOrders(_ context.Context) ([]fulfillment.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]fulfillment.Order, 0, len(m.orders))
	for _, o := range m.orders {
		result = append(result, *o.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// AppendAuditLog is append-only. A repeated entry ID is a no-op.
func (m *Memory) AppendAuditLog(_ context.Context, entry fulfillment.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID != "" && m.auditIDs[entry.ID] {
		return nil
	}
	m.audit[entry.OrderID] = append(m.audit[entry.OrderID], entry)
	if entry.ID != "" {
		m.auditIDs[entry.ID] = true
	}
	return nil
}

func (m *Memory) QueryAuditLogsByOrder(_ context.Context, id fulfillment.OrderID) ([]fulfillment.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]fulfillment.AuditLogEntry, len(m.audit[id]))
	copy(result, m.audit[id])
	return result, nil
}
