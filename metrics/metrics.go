// Package metrics exposes Prometheus collectors for the fulfillment
// operations and the HTTP surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/eggstand/fulfillment"
)

const namespace = "eggstand"

// Metrics holds every collector. It implements fulfillment.Observer.
type Metrics struct {
	DeliveriesRecorded  prometheus.Counter
	EggsDelivered       prometheus.Counter
	DeliveriesCorrected prometheus.Counter
	OperationsRejected  *prometheus.CounterVec
	AuditWriteFailures  prometheus.Counter
	AuditRetries        *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DeliveriesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_recorded_total",
			Help:      "Total number of delivery events appended to orders.",
		}),
		EggsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eggs_delivered_total",
			Help:      "Total quantity recorded across all new delivery events.",
		}),
		DeliveriesCorrected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_corrected_total",
			Help:      "Total number of delivery events corrected by an admin.",
		}),
		OperationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Operations that returned an error, by operation and reason.",
		}, []string{"operation", "reason"}),
		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that failed to write after the correction was persisted.",
		}),
		AuditRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_retries_total",
			Help:      "Background audit write retries, by result.",
		}, []string{"result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Customer notifications, by kind and result.",
		}, []string{"kind", "result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// =============================================================================
// fulfillment.Observer
// =============================================================================

func (m *Metrics) DeliveryRecorded(qty int) {
	m.DeliveriesRecorded.Inc()
	m.EggsDelivered.Add(float64(qty))
}

func (m *Metrics) DeliveryCorrected() { m.DeliveriesCorrected.Inc() }

func (m *Metrics) OperationRejected(op string, err error) {
	m.OperationsRejected.WithLabelValues(op, Reason(err)).Inc()
}

func (m *Metrics) AuditWriteFailed() { m.AuditWriteFailures.Inc() }

func (m *Metrics) AuditRetried(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	m.AuditRetries.WithLabelValues(result).Inc()
}

// NotificationSent counts one notification attempt.
func (m *Metrics) NotificationSent(kind, result string) {
	m.Notifications.WithLabelValues(kind, result).Inc()
}

// Reason maps an error onto a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, fulfillment.ErrValidation):
		return "validation"
	case errors.Is(err, fulfillment.ErrOrderNotFound), errors.Is(err, fulfillment.ErrDeliveryNotFound):
		return "not_found"
	case errors.Is(err, fulfillment.ErrOverDelivery):
		return "over_delivery"
	case errors.Is(err, fulfillment.ErrConflict):
		return "conflict"
	case errors.Is(err, fulfillment.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, fulfillment.ErrAuditWrite):
		return "audit_write"
	case errors.Is(err, fulfillment.ErrStorage):
		return "storage"
	default:
		return "other"
	}
}

// =============================================================================
// HTTP
// =============================================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per chi route pattern, so
// path parameters do not explode the label set.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
