/*
store.go - Persistence interfaces for orders and audit entries

PURPOSE:
  The boundary between fulfillment logic and whatever holds the data.
  The core never branches on backend type; cmd/server picks one at
  startup.

KEY INTERFACES:
  OrderStore:   Load/save one order, append/query audit entries
  OrderCatalog: Create and list orders (admin surface)

OPTIMISTIC CONCURRENCY:
  SaveOrder compares order.Version with the stored version. On match it
  writes, bumps the stored version and sets order.Version to the new
  value. On mismatch it returns ErrConflict and writes nothing. The
  ledger reloads and retries.

IMPLEMENTATIONS:
  - fulfillment/store/memory.go: In-memory for tests and dev
  - store/sqlite:                One row per order, delivery log as JSON text
  - store/postgres:              One JSONB document per order

SEE ALSO:
  - ledger.go: Serialized read-modify-write on top of OrderStore
*/
package fulfillment

import "context"

// OrderStore persists orders and their audit trail.
type OrderStore interface {
	// GetOrder returns ErrOrderNotFound (wrapped) when the ID is unknown.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// SaveOrder writes the whole order if order.Version matches.
	SaveOrder(ctx context.Context, order *Order) error

	// AppendAuditLog is append-only.
	AppendAuditLog(ctx context.Context, entry AuditLogEntry) error

	// QueryAuditLogsByOrder returns entries in append order.
	QueryAuditLogsByOrder(ctx context.Context, id OrderID) ([]AuditLogEntry, error)
}

// OrderCatalog extends OrderStore with admin listing and creation.
type OrderCatalog interface {
	OrderStore

	// CreateOrder returns ErrAlreadyExists if the ID is taken.
	CreateOrder(ctx context.Context, order *Order) error

	// ListOrders returns all orders, newest first.
	ListOrders(ctx context.Context) ([]Order, error)
}
