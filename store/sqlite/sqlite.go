/*
Package sqlite provides a SQLite-backed fulfillment.OrderCatalog.

PURPOSE:
  Row-per-order storage, the tabular counterpart of the order sheet the
  storefront started with. Each order is one row; its delivery log is a
  JSON array in the delivery_logs column, exactly the shape the sheet
  kept in its "delivery logs" cell.

KEY TABLES:
  orders:      One row per order, delivery_logs JSON, version column
  audit_logs:  Append-only correction trail, ordered by seq

OPTIMISTIC CONCURRENCY:
  SaveOrder runs UPDATE ... WHERE id = ? AND version = ?. Zero rows
  affected means either the order is gone (ErrOrderNotFound) or someone
  else saved first (ErrConflict).

STATUS VALUES:
  Written as canonical codes. Rows imported from the sheet may still
  carry localized labels (已完成, 部分配送); they are read through
  fulfillment.ParseStatus.

WAL MODE:
  Opened with WAL so readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./data/orders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/eggstand/fulfillment"
)

// Store implements fulfillment.OrderCatalog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
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

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		items TEXT NOT NULL DEFAULT '',
		ordered_quantity INTEGER NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		payment_method TEXT,
		payment_status TEXT NOT NULL,
		status TEXT NOT NULL,
		delivery_logs TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user
		ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_orders_created
		ON orders(created_at DESC);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		order_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		admin_name TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		before_json TEXT NOT NULL,
		after_json TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_order
		ON audit_logs(order_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ORDERS
// =============================================================================

const orderColumns = `id, user_id, items, ordered_quantity, amount, payment_method,
	payment_status, status, delivery_logs, version, created_at, updated_at`

// CreateOrder inserts order at version 1.
func (s *Store) CreateOrder(ctx context.Context, order *fulfillment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := marshalLogs(order.Deliveries)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		order.ID,
		order.UserID,
		order.Items,
		order.OrderedQuantity,
		order.Amount.String(),
		nullString(order.PaymentMethod),
		order.PaymentStatus,
		order.Status,
		logs,
		formatTime(order.CreatedAt),
		formatTime(order.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fulfillment.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.Version = 1
	return nil
}

// GetOrder loads one order.
func (s *Store) GetOrder(ctx context.Context, id fulfillment.OrderID) (*fulfillment.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fulfillment.NotFoundError{OrderID: id}
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// SaveOrder writes the order if its version is current.
func (s *Store) SaveOrder(ctx context.Context, order *fulfillment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, err := marshalLogs(order.Deliveries)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET user_id = ?, items = ?, ordered_quantity = ?, amount = ?, payment_method = ?,
			payment_status = ?, status = ?, delivery_logs = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		order.UserID,
		order.Items,
		order.OrderedQuantity,
		order.Amount.String(),
		nullString(order.PaymentMethod),
		order.PaymentStatus,
		order.Status,
		logs,
		formatTime(order.UpdatedAt),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, order.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return &fulfillment.NotFoundError{OrderID: order.ID}
		}
		if err != nil {
			return err
		}
		return fulfillment.ErrConflict
	}

	order.Version++
	return nil
}

// ListOrders returns all orders, newest first.
func (s *Store) ListOrders(ctx context.Context) ([]fulfillment.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fulfillment.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*fulfillment.Order, error) {
	var (
		o                    fulfillment.Order
		amount, status, logs string
		paymentMethod        sql.NullString
		created, updated     string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Items,
		&o.OrderedQuantity,
		&amount,
		&paymentMethod,
		&o.PaymentStatus,
		&status,
		&logs,
		&o.Version,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("order %s: bad amount %q: %w", o.ID, amount, err)
	}
	o.PaymentMethod = paymentMethod.String
	o.Status = fulfillment.ParseStatus(status)
	if err := json.Unmarshal([]byte(logs), &o.Deliveries); err != nil {
		return nil, fmt.Errorf("order %s: bad delivery_logs: %w", o.ID, err)
	}
	if o.Deliveries == nil {
		o.Deliveries = fulfillment.DeliveryLog{}
	}
	if o.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("order %s: bad created_at %q: %w", o.ID, created, err)
	}
	if o.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("order %s: bad updated_at %q: %w", o.ID, updated, err)
	}
	return &o, nil
}

// =============================================================================
// AUDIT LOGS
// =============================================================================

// AppendAuditLog inserts entry. A repeated ID is ignored.
func (s *Store) AppendAuditLog(ctx context.Context, entry fulfillment.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := json.Marshal(entry.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_logs
		(id, order_id, operation, admin_name, log_index, before_json, after_json, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.OrderID,
		entry.Operation,
		entry.AdminName,
		entry.LogIndex,
		string(before),
		string(after),
		entry.Reason,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// QueryAuditLogsByOrder returns the order's entries in append order.
func (s *Store) QueryAuditLogsByOrder(ctx context.Context, id fulfillment.OrderID) ([]fulfillment.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, operation, admin_name, log_index, before_json, after_json, reason, created_at
		FROM audit_logs
		WHERE order_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []fulfillment.AuditLogEntry{}
	for rows.Next() {
		var (
			e             fulfillment.AuditLogEntry
			before, after string
			created       string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Operation, &e.AdminName, &e.LogIndex,
			&before, &after, &e.Reason, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(before), &e.Before); err != nil {
			return nil, fmt.Errorf("audit %s: bad before_json: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(after), &e.After); err != nil {
			return nil, fmt.Errorf("audit %s: bad after_json: %w", e.ID, err)
		}
		ts, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("audit %s: bad created_at %q: %w", e.ID, created, err)
		}
		e.Timestamp = ts
		result = append(result, e)
	}
	return result, rows.Err()
}

// Reset deletes all data. Used by tests and local demos.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"audit_logs", "orders"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func marshalLogs(logs fulfillment.DeliveryLog) (string, error) {
	if logs == nil {
		logs = fulfillment.DeliveryLog{}
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("failed to encode delivery logs: %w", err)
	}
	return string(b), nil
}

// Fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
