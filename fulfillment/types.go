/*
types.go - Core domain types for order fulfillment

PURPOSE:
  Orders, their delivery events, and the audit entries written when an
  admin corrects a delivery after the fact.

KEY CONCEPTS:
  Order:          What the customer bought and how much of it has shipped
  DeliveryEvent:  One shipment, appended to the order's DeliveryLog
  Effective qty:  CorrectedQuantity if set, otherwise Quantity
  Status:         Always derived from ordered vs. delivered, never set by hand

PERSISTED SHAPE:
  Delivery events are stored as JSON with the keys the storefront has
  always used (stamp, delivery_date, qty, corrected_qty, address,
  is_corrected, original_qty). Both store backends serialize the whole
  DeliveryLog as a single JSON value.

SEE ALSO:
  - delivery.go: DeliveryLog collection type
  - status.go:   Status derivation
  - audit.go:    AuditLogger
*/
package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type UserID string

// =============================================================================
// STATUS
// =============================================================================

// Status is the fulfillment state of an order.
type Status string

const (
	StatusProcessing         Status = "processing"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusCompleted          Status = "completed"
)

// Labels shown to customers and used by older records.
var statusLabels = map[Status]string{
	StatusProcessing:         "處理中",
	StatusPartiallyDelivered: "部分配送",
	StatusCompleted:          "已完成",
}

// Label returns the customer-facing label for the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus accepts either the canonical code or the localized label.
// Unknown values map to StatusProcessing.
func ParseStatus(v string) Status {
	switch Status(v) {
	case StatusProcessing, StatusPartiallyDelivered, StatusCompleted:
		return Status(v)
	}
	for s, l := range statusLabels {
		if l == v {
			return s
		}
	}
	return StatusProcessing
}

// PaymentStatus is opaque to fulfillment; it is stored and echoed back.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// =============================================================================
// ORDER
// =============================================================================

// Order is the unit of fulfillment.
type Order struct {
	ID              OrderID         `json:"order_id"`
	UserID          UserID          `json:"user_id"`
	Items           string          `json:"items"`
	OrderedQuantity int             `json:"ordered_quantity"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Deliveries      DeliveryLog     `json:"delivery_logs"`
	Status          Status          `json:"status"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so a mutation can be discarded on failure.
func (o *Order) Clone() *Order {
	c := *o
	c.Deliveries = o.Deliveries.Clone()
	return &c
}

// TotalDelivered is the sum of effective quantities across the log.
func (o *Order) TotalDelivered() int {
	return TotalDelivered(o.Deliveries)
}

// Remaining is how much is still owed, floored at zero.
func (o *Order) Remaining() int {
	return Remaining(o.OrderedQuantity, o.Deliveries)
}

// =============================================================================
// DELIVERY EVENT
// =============================================================================

// DeliveryEvent records one shipment. Quantity and RecordedAt never change
// after creation; corrections go into CorrectedQuantity.
type DeliveryEvent struct {
	RecordedAt        time.Time  `json:"stamp"`
	DeliveryDate      string     `json:"delivery_date"`
	Quantity          int        `json:"qty"`
	CorrectedQuantity *int       `json:"corrected_qty,omitempty"`
	Address           string     `json:"address"`
	IsCorrected       bool       `json:"is_corrected"`
	OriginalQuantity  *int       `json:"original_qty,omitempty"`
	CorrectedAt       *time.Time `json:"corrected_at,omitempty"`
	CorrectedBy       string     `json:"corrected_by,omitempty"`
}

// Effective returns the quantity that counts toward the order total.
func (e DeliveryEvent) Effective() int {
	return EffectiveQuantity(e)
}

// Snapshot captures the fields a correction may change.
func (e DeliveryEvent) Snapshot() DeliverySnapshot {
	return DeliverySnapshot{
		Quantity:     e.Effective(),
		Address:      e.Address,
		DeliveryDate: e.DeliveryDate,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

// OperationUpdateDelivery is the only audited operation today.
const OperationUpdateDelivery = "update_delivery"

// DeliverySnapshot is the before/after payload of an audit entry.
type DeliverySnapshot struct {
	Quantity     int    `json:"qty"`
	Address      string `json:"address"`
	DeliveryDate string `json:"delivery_date"`
}

// AuditLogEntry records who changed a delivery, from what, to what, and why.
type AuditLogEntry struct {
	ID        string           `json:"id"`
	OrderID   OrderID          `json:"order_id"`
	Operation string           `json:"operation"`
	AdminName string           `json:"admin_name"`
	LogIndex  int              `json:"log_index"`
	Before    DeliverySnapshot `json:"before"`
	After     DeliverySnapshot `json:"after"`
	Reason    string           `json:"reason"`
	Timestamp time.Time        `json:"timestamp"`
}
