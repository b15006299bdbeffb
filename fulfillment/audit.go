package fulfillment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditLogger is the append-only trail of delivery corrections.
// Stores treat a repeated entry ID as already written, so an entry can be
// re-appended safely after an ambiguous failure.
type AuditLogger struct {
	Store OrderStore
	NewID func() string
	Now   func() time.Time
}

func NewAuditLogger(store OrderStore) *AuditLogger {
	return &AuditLogger{
		Store: store,
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

// Append validates and writes entry. ID and Timestamp are filled in when
// empty; the filled entry is returned even when the write fails so the
// caller can retry it unchanged.
func (a *AuditLogger) Append(ctx context.Context, entry AuditLogEntry) (AuditLogEntry, error) {
	if entry.OrderID == "" {
		return entry, invalid("orderId", "is required")
	}
	if strings.TrimSpace(entry.Reason) == "" {
		return entry, invalid("reason", "is required")
	}
	if entry.Operation == "" {
		entry.Operation = OperationUpdateDelivery
	}
	if entry.ID == "" {
		entry.ID = a.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.Now().UTC()
	}

	if err := a.Store.AppendAuditLog(ctx, entry); err != nil {
		return entry, wrapStorage("append audit log", err)
	}
	return entry, nil
}

// QueryByOrder returns the order's entries in append order.
func (a *AuditLogger) QueryByOrder(ctx context.Context, id OrderID) ([]AuditLogEntry, error) {
	if id == "" {
		return nil, invalid("orderId", "is required")
	}
	entries, err := a.Store.QueryAuditLogsByOrder(ctx, id)
	if err != nil {
		return nil, wrapStorage("query audit logs", err)
	}
	return entries, nil
}
