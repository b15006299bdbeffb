/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow
  what the admin frontend already sends (camelCase for the delivery
  endpoints, snake_case for delivery_date).

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

VALIDATION:
  Structural checks (presence, ranges) use validator struct tags.
  Business rules (positive quantities, reason required, over-delivery)
  live in the fulfillment package so every caller gets them.

COMPATIBILITY:
  userId, totalOrdered and the old* fields are accepted but ignored.
  The server always works from the stored order.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/eggstand/fulfillment"
)

// =============================================================================
// ENVELOPE
// =============================================================================

const (
	statusSuccess = "success"
	statusError   = "error"
)

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ErrorResponse is returned for every failure.
type ErrorResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"msg"`
	Code    string             `json:"code"`
	Details []ValidationDetail `json:"details,omitempty"`
	Data    any                `json:"data,omitempty"`
}

// ValidationDetail names one rejected field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// DELIVERY
// =============================================================================

// AddDeliveryRequest records a shipment.
type AddDeliveryRequest struct {
	OrderID      string `json:"orderId" validate:"required"`
	UserID       string `json:"userId"`
	Quantity     int    `json:"qty"`
	Address      string `json:"address" validate:"max=500"`
	DeliveryDate string `json:"delivery_date"`
	TotalOrdered int    `json:"totalOrdered"`
}

// CorrectDeliveryRequest rewrites one shipment record.
type CorrectDeliveryRequest struct {
	OrderID         string `json:"orderId" validate:"required"`
	UserID          string `json:"userId"`
	LogIndex        *int   `json:"logIndex" validate:"required,gte=0"`
	NewQuantity     *int   `json:"newQty" validate:"required"`
	NewAddress      string `json:"newAddress" validate:"max=500"`
	NewDeliveryDate string `json:"newDeliveryDate"`
	Reason          string `json:"reason" validate:"max=1000"`
	OldQuantity     *int   `json:"oldQty"`
	OldAddress      string `json:"oldAddress"`
	OldDeliveryDate string `json:"oldDeliveryDate"`
}

// DeliveryEventDTO is one entry of an order's delivery log.
type DeliveryEventDTO struct {
	LogIndex          int        `json:"logIndex"`
	RecordedAt        time.Time  `json:"stamp"`
	DeliveryDate      string     `json:"delivery_date"`
	Quantity          int        `json:"qty"`
	EffectiveQuantity int        `json:"effectiveQty"`
	CorrectedQuantity *int       `json:"corrected_qty,omitempty"`
	Address           string     `json:"address"`
	IsCorrected       bool       `json:"is_corrected"`
	OriginalQuantity  *int       `json:"original_qty,omitempty"`
	CorrectedAt       *time.Time `json:"corrected_at,omitempty"`
	CorrectedBy       string     `json:"corrected_by,omitempty"`
}

// AddDeliveryDTO is returned after recording a shipment.
type AddDeliveryDTO struct {
	OrderID         string           `json:"orderId"`
	OrderedQuantity int              `json:"totalOrdered"`
	TotalDelivered  int              `json:"totalDelivered"`
	Remaining       int              `json:"remaining"`
	Status          string           `json:"status"`
	StatusLabel     string           `json:"statusLabel"`
	Delivery        DeliveryEventDTO `json:"delivery"`
}

// CorrectionDTO is returned after a correction, also on audit failure.
type CorrectionDTO struct {
	OrderID         string                       `json:"orderId"`
	LogIndex        int                          `json:"logIndex"`
	Before          fulfillment.DeliverySnapshot `json:"before"`
	After           fulfillment.DeliverySnapshot `json:"after"`
	OrderedQuantity int                          `json:"totalOrdered"`
	TotalDelivered  int                          `json:"totalDelivered"`
	Remaining       int                          `json:"remaining"`
	Status          string                       `json:"status"`
	StatusLabel     string                       `json:"statusLabel"`
	AuditID         string                       `json:"auditId,omitempty"`
}

// AuditLogDTO is one audit trail entry.
type AuditLogDTO struct {
	ID        string                       `json:"id"`
	OrderID   string                       `json:"orderId"`
	Operation string                       `json:"operation"`
	AdminName string                       `json:"adminName"`
	LogIndex  int                          `json:"logIndex"`
	Before    fulfillment.DeliverySnapshot `json:"before"`
	After     fulfillment.DeliverySnapshot `json:"after"`
	Reason    string                       `json:"reason"`
	Timestamp time.Time                    `json:"timestamp"`
}

// DeliveryRecordDTO is one row of the daily delivery report.
type DeliveryRecordDTO struct {
	OrderID      string `json:"orderId"`
	UserID       string `json:"userId"`
	Items        string `json:"items"`
	LogIndex     int    `json:"logIndex"`
	DeliveryDate string `json:"delivery_date"`
	Quantity     int    `json:"qty"`
	Address      string `json:"address"`
	IsCorrected  bool   `json:"is_corrected"`
	Status       string `json:"status"`
	StatusLabel  string `json:"statusLabel"`
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrderRequest registers an order. totalOrdered is parsed from
// items ("... x22") when omitted.
type CreateOrderRequest struct {
	OrderID       string          `json:"orderId" validate:"required,max=100"`
	UserID        string          `json:"userId" validate:"required,max=100"`
	Items         string          `json:"items" validate:"max=500"`
	TotalOrdered  int             `json:"totalOrdered" validate:"gte=0"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentStatus string          `json:"paymentStatus"`
}

// UpdatePaymentRequest sets the payment status of an order.
type UpdatePaymentRequest struct {
	OrderID       string `json:"orderId" validate:"required"`
	PaymentStatus string `json:"paymentStatus" validate:"required"`
}

// OrderDTO represents an order in API responses.
type OrderDTO struct {
	OrderID         string             `json:"orderId"`
	UserID          string             `json:"userId"`
	Items           string             `json:"items"`
	OrderedQuantity int                `json:"totalOrdered"`
	TotalDelivered  int                `json:"totalDelivered"`
	Remaining       int                `json:"remaining"`
	Amount          decimal.Decimal    `json:"amount"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	PaymentStatus   string             `json:"paymentStatus"`
	Status          string             `json:"status"`
	StatusLabel     string             `json:"statusLabel"`
	Deliveries      []DeliveryEventDTO `json:"deliveryLogs"`
	Version         int64              `json:"version"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDeliveryEventDTO(i int, e fulfillment.DeliveryEvent) DeliveryEventDTO {
	return DeliveryEventDTO{
		LogIndex:          i,
		RecordedAt:        e.RecordedAt,
		DeliveryDate:      e.DeliveryDate,
		Quantity:          e.Quantity,
		EffectiveQuantity: e.Effective(),
		CorrectedQuantity: e.CorrectedQuantity,
		Address:           e.Address,
		IsCorrected:       e.IsCorrected,
		OriginalQuantity:  e.OriginalQuantity,
		CorrectedAt:       e.CorrectedAt,
		CorrectedBy:       e.CorrectedBy,
	}
}

func toOrderDTO(o *fulfillment.Order) OrderDTO {
	deliveries := make([]DeliveryEventDTO, len(o.Deliveries))
	for i, e := range o.Deliveries {
		deliveries[i] = toDeliveryEventDTO(i, e)
	}
	return OrderDTO{
		OrderID:         string(o.ID),
		UserID:          string(o.UserID),
		Items:           o.Items,
		OrderedQuantity: o.OrderedQuantity,
		TotalDelivered:  o.TotalDelivered(),
		Remaining:       o.Remaining(),
		Amount:          o.Amount,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		StatusLabel:     o.Status.Label(),
		Deliveries:      deliveries,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toCorrectionDTO(res fulfillment.CorrectionResult) CorrectionDTO {
	return CorrectionDTO{
		OrderID:         string(res.OrderID),
		LogIndex:        res.LogIndex,
		Before:          res.Before,
		After:           res.After,
		OrderedQuantity: res.OrderedQuantity,
		TotalDelivered:  res.TotalDelivered,
		Remaining:       res.Remaining,
		Status:          string(res.Status),
		StatusLabel:     res.Status.Label(),
		AuditID:         res.Audit.ID,
	}
}

func toAuditLogDTO(e fulfillment.AuditLogEntry) AuditLogDTO {
	return AuditLogDTO{
		ID:        e.ID,
		OrderID:   string(e.OrderID),
		Operation: e.Operation,
		AdminName: e.AdminName,
		LogIndex:  e.LogIndex,
		Before:    e.Before,
		After:     e.After,
		Reason:    e.Reason,
		Timestamp: e.Timestamp,
	}
}

func toDeliveryRecordDTO(r fulfillment.DeliveryRecord) DeliveryRecordDTO {
	return DeliveryRecordDTO{
		OrderID:      string(r.OrderID),
		UserID:       string(r.UserID),
		Items:        r.Items,
		LogIndex:     r.LogIndex,
		DeliveryDate: r.DeliveryDate,
		Quantity:     r.Quantity,
		Address:      r.Address,
		IsCorrected:  r.IsCorrected,
		Status:       string(r.OrderStatus),
		StatusLabel:  r.OrderStatus.Label(),
	}
}
