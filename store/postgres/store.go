/*
Package postgres provides a document-style fulfillment.OrderCatalog on
PostgreSQL.

PURPOSE:
  Each order is one JSONB document, mirroring how the storefront kept
  orders in a document database. Columns outside the document (id,
  user_id, version, timestamps) exist only for lookup, ordering and the
  optimistic version check.

KEY TABLES:
  orders:      id, user_id, doc JSONB, version
  audit_logs:  seq, id (unique), order_id, entry JSONB

Schema lives in migrations/ and is applied with goose (see Migrate).
*/
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/eggstand/fulfillment"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements fulfillment.OrderCatalog.
type Store struct {
	q  Querier
	sb squirrel.StatementBuilderType
}

func NewStore(q Querier) *Store {
	return &Store{
		q:  q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

type orderRow struct {
	ID      string `db:"id"`
	Doc     []byte `db:"doc"`
	Version int64  `db:"version"`
}

type auditRow struct {
	Entry []byte `db:"entry"`
}

func (r orderRow) decode() (*fulfillment.Order, error) {
	var o fulfillment.Order
	if err := json.Unmarshal(r.Doc, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", r.ID, err)
	}
	o.ID = fulfillment.OrderID(r.ID)
	o.Version = r.Version
	o.Status = fulfillment.ParseStatus(string(o.Status))
	if o.Deliveries == nil {
		o.Deliveries = fulfillment.DeliveryLog{}
	}
	return &o, nil
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrder inserts the order document at version 1.
func (s *Store) CreateOrder(ctx context.Context, order *fulfillment.Order) error {
	order.Version = 1
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}

	query, args, err := s.sb.
		Insert("orders").
		Columns("id", "user_id", "doc", "version", "created_at", "updated_at").
		Values(string(order.ID), string(order.UserID), doc, order.Version, order.CreatedAt, order.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		order.Version = 0
		return mapError(err, "create order", order.ID)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id fulfillment.OrderID) (*fulfillment.Order, error) {
	query, args, err := s.sb.
		Select("id", "doc", "version").
		From("orders").
		Where(squirrel.Eq{"id": string(id)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row orderRow
	if err := pgxscan.Get(ctx, s.q, &row, query, args...); err != nil {
		return nil, mapError(err, "get order", id)
	}
	return row.decode()
}

// SaveOrder replaces the document if order.Version is still current.
func (s *Store) SaveOrder(ctx context.Context, order *fulfillment.Order) error {
	next := *order
	next.Version = order.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}

	query, args, err := s.sb.
		Update("orders").
		Set("doc", doc).
		Set("user_id", string(order.UserID)).
		Set("updated_at", order.UpdatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": string(order.ID), "version": order.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "save order", order.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, string(order.ID)).Scan(&exists)
		if err != nil {
			return mapError(err, "save order", order.ID)
		}
		if !exists {
			return &fulfillment.NotFoundError{OrderID: order.ID}
		}
		return fulfillment.ErrConflict
	}

	order.Version = next.Version
	return nil
}

// ListOrders returns all orders, newest first.
func (s *Store) ListOrders(ctx context.Context) ([]fulfillment.Order, error) {
	query, args, err := s.sb.
		Select("id", "doc", "version").
		From("orders").
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []orderRow
	if err := pgxscan.Select(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError(err, "list orders", "")
	}

	orders := make([]fulfillment.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.decode()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

// AppendAuditLog inserts entry. A repeated ID is ignored.
func (s *Store) AppendAuditLog(ctx context.Context, entry fulfillment.AuditLogEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	query, args, err := s.sb.
		Insert("audit_logs").
		Columns("id", "order_id", "entry", "created_at").
		Values(entry.ID, string(entry.OrderID), doc, entry.Timestamp).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "append audit log", entry.OrderID)
	}
	return nil
}

// QueryAuditLogsByOrder returns the order's entries in append order.
func (s *Store) QueryAuditLogsByOrder(ctx context.Context, id fulfillment.OrderID) ([]fulfillment.AuditLogEntry, error) {
	query, args, err := s.sb.
		Select("entry").
		From("audit_logs").
		Where(squirrel.Eq{"order_id": string(id)}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []auditRow
	if err := pgxscan.Select(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError(err, "query audit logs", id)
	}

	entries := make([]fulfillment.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		var e fulfillment.AuditLogEntry
		if err := json.Unmarshal(r.Entry, &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
