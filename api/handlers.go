/*
handlers.go - HTTP API handlers for order fulfillment

PURPOSE:
  Exposes the fulfillment service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS (under /api/admin):
  Delivery:
    POST   /order/add_delivery               Record a shipment
    POST   /order/correct_delivery           Correct a recorded shipment
    GET    /order/delivery_audit/{orderId}   Correction history

  Orders:
    GET    /orders                           List orders, newest first
    POST   /orders                           Create order
    GET    /orders/{orderId}                 Order with delivery log
    POST   /order/update_payment             Set payment status

  Reports:
    GET    /reports/delivery-records?delivery_date=YYYY-MM-DD

REQUEST FLOW:
  1. Decode JSON body
  2. Validate shape (validator tags)
  3. Call fulfillment.Service
  4. Serialize response in the success envelope
  5. Map errors (see writeServiceError)

ADMIN IDENTITY:
  Taken from the X-Admin-Name header. There is no authentication here;
  the admin API is expected to sit behind the storefront's admin gate.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/eggstand/fulfillment"
)

// AdminHeader carries the name of the admin performing a correction.
const AdminHeader = "X-Admin-Name"

const maxBodyBytes = 1 << 20

// Error codes returned in the "code" field.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeValidation       = "validation_error"
	CodeNotFound         = "not_found"
	CodeOverDelivery     = "over_delivery"
	CodeConflict         = "conflict"
	CodeAlreadyExists    = "already_exists"
	CodeAuditWriteFailed = "audit_write_failed"
	CodeStorage          = "storage_error"
	CodeInternal         = "internal_error"
)

// MsgAuditWriteFailed is shown to the admin when the correction was saved
// but its audit entry was not.
const MsgAuditWriteFailed = "審計日誌添加失敗"

// HealthChecker reports whether the backing store is reachable.
type HealthChecker func(ctx context.Context) error

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *fulfillment.Service
	Health   HealthChecker
	validate *validator.Validate
	log      *zap.Logger
}

// NewHandler creates a handler over svc. health may be nil.
func NewHandler(svc *fulfillment.Service, health HealthChecker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Health:   health,
		validate: newValidator(),
		log:      log.Named("api"),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names for field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// DELIVERY HANDLERS
// =============================================================================

// AddDelivery records a shipment against an order.
// POST /api/admin/order/add_delivery
func (h *Handler) AddDelivery(w http.ResponseWriter, r *http.Request) {
	var req AddDeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Service.AddDelivery(r.Context(), fulfillment.AddDeliveryInput{
		OrderID:      fulfillment.OrderID(strings.TrimSpace(req.OrderID)),
		Quantity:     req.Quantity,
		Address:      strings.TrimSpace(req.Address),
		DeliveryDate: strings.TrimSpace(req.DeliveryDate),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, AddDeliveryDTO{
		OrderID:         string(res.OrderID),
		OrderedQuantity: res.OrderedQuantity,
		TotalDelivered:  res.TotalDelivered,
		Remaining:       res.Remaining,
		Status:          string(res.Status),
		StatusLabel:     res.Status.Label(),
		Delivery:        toDeliveryEventDTO(res.LogIndex, res.Event),
	})
}

// CorrectDelivery rewrites a recorded shipment and writes an audit entry.
// POST /api/admin/order/correct_delivery
func (h *Handler) CorrectDelivery(w http.ResponseWriter, r *http.Request) {
	var req CorrectDeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Service.CorrectDelivery(r.Context(), fulfillment.CorrectDeliveryInput{
		OrderID:         fulfillment.OrderID(strings.TrimSpace(req.OrderID)),
		LogIndex:        *req.LogIndex,
		NewQuantity:     *req.NewQuantity,
		NewAddress:      strings.TrimSpace(req.NewAddress),
		NewDeliveryDate: strings.TrimSpace(req.NewDeliveryDate),
		Reason:          req.Reason,
		AdminName:       adminName(r),
	})

	var auditErr *fulfillment.AuditWriteError
	if errors.As(err, &auditErr) {
		// the correction is saved; tell the admin the trail is behind
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Status:  statusError,
			Message: MsgAuditWriteFailed,
			Code:    CodeAuditWriteFailed,
			Data:    toCorrectionDTO(res),
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, toCorrectionDTO(res))
}

// DeliveryAudit returns the correction history of an order.
// GET /api/admin/order/delivery_audit/{orderId}
func (h *Handler) DeliveryAudit(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.OrderID(chi.URLParam(r, "orderId"))

	entries, err := h.Service.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]AuditLogDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditLogDTO(e)
	}
	writeSuccess(w, http.StatusOK, dtos)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ListOrders returns all orders, newest first.
// GET /api/admin/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Service.Catalog.ListOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]OrderDTO, len(orders))
	for i := range orders {
		dtos[i] = toOrderDTO(&orders[i])
	}
	writeSuccess(w, http.StatusOK, dtos)
}

// CreateOrder registers a new order.
// POST /api/admin/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.Service.Catalog.CreateOrder(r.Context(), fulfillment.NewOrderInput{
		OrderID:         fulfillment.OrderID(strings.TrimSpace(req.OrderID)),
		UserID:          fulfillment.UserID(strings.TrimSpace(req.UserID)),
		Items:           req.Items,
		OrderedQuantity: req.TotalOrdered,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   fulfillment.PaymentStatus(req.PaymentStatus),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, toOrderDTO(order))
}

// GetOrder returns one order with its delivery log.
// GET /api/admin/orders/{orderId}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := fulfillment.OrderID(chi.URLParam(r, "orderId"))

	order, err := h.Service.Catalog.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toOrderDTO(order))
}

// UpdatePayment sets the payment status of an order.
// POST /api/admin/order/update_payment
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.Service.Catalog.UpdatePaymentStatus(r.Context(),
		fulfillment.OrderID(strings.TrimSpace(req.OrderID)),
		fulfillment.PaymentStatus(strings.TrimSpace(req.PaymentStatus)))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, toOrderDTO(order))
}

// =============================================================================
// REPORTS
// =============================================================================

// DeliveryRecords lists every shipment on one day.
// GET /api/admin/reports/delivery-records?delivery_date=YYYY-MM-DD
func (h *Handler) DeliveryRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.DeliveryRecords(r.Context(), r.URL.Query().Get("delivery_date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]DeliveryRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toDeliveryRecordDTO(rec)
	}
	writeSuccess(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports 200 when the store answers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Status:  statusError,
				Message: "store unavailable",
				Code:    CodeStorage,
			})
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func adminName(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(AdminHeader)); name != "" {
		return name
	}
	return "unknown"
}

// decode reads and validates the body into dst. On failure it writes the
// response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON", nil)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]ValidationDetail, len(verrs))
			for i, fe := range verrs {
				details[i] = ValidationDetail{Field: fe.Field(), Message: validationMessage(fe)}
			}
			writeError(w, http.StatusBadRequest, CodeValidation, "Request validation failed", details)
			return false
		}
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	default:
		return "Invalid value"
	}
}

// writeServiceError maps fulfillment errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *fulfillment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, CodeValidation, verr.Error(),
			[]ValidationDetail{{Field: verr.Field, Message: verr.Message}})
	case fulfillment.IsNotFound(err):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, fulfillment.ErrOverDelivery):
		writeError(w, http.StatusConflict, CodeOverDelivery, err.Error(), nil)
	case fulfillment.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, fulfillment.ErrAlreadyExists):
		writeError(w, http.StatusConflict, CodeAlreadyExists, err.Error(), nil)
	case errors.Is(err, fulfillment.ErrAuditWrite):
		writeError(w, http.StatusInternalServerError, CodeAuditWriteFailed, MsgAuditWriteFailed, nil)
	case errors.Is(err, fulfillment.ErrStorage):
		h.logInternal(r, err)
		writeError(w, http.StatusInternalServerError, CodeStorage, "Storage unavailable", nil)
	default:
		h.logInternal(r, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal error", nil)
	}
}

func (h *Handler) logInternal(r *http.Request, err error) {
	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
		zap.Error(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessResponse{Status: statusSuccess, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string, details []ValidationDetail) {
	writeJSON(w, status, ErrorResponse{
		Status:  statusError,
		Message: msg,
		Code:    code,
		Details: details,
	})
}
