/*
service.go - Entry point for the admin fulfillment operations

PURPOSE:
  Ties Recorder, Corrector and AuditLogger to the side effects that
  follow a successful mutation: customer notification, metrics, and
  queueing audit entries that failed to write.

SIDE EFFECTS ARE BEST EFFORT:
  Notification errors are logged and swallowed. The Notifier gets a
  context detached from the request so an early client disconnect does
  not cancel an in-flight send.
*/
package fulfillment

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Service is what the HTTP layer talks to.
type Service struct {
	Recorder  *Recorder
	Corrector *Corrector
	Audit     *AuditLogger
	Catalog   *Catalog
	Retrier   *AuditRetrier
	Notifier  Notifier
	Observer  Observer

	log *zap.Logger
}

// Deps are the collaborators NewService wires together.
type Deps struct {
	Store    OrderCatalog
	Locker   Locker
	Notifier Notifier
	Observer Observer
	Logger   *zap.Logger
	Policy   Policy

	// SaveAttempts bounds optimistic-save retries; zero keeps the default.
	SaveAttempts int
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	obs := d.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	ledger := NewOrderLedger(d.Store, d.Locker)
	if d.SaveAttempts > 0 {
		ledger.MaxAttempts = d.SaveAttempts
	}
	audit := NewAuditLogger(d.Store)
	retrier := NewAuditRetrier(audit, log)
	retrier.Observer = obs

	return &Service{
		Recorder:  NewRecorder(ledger, d.Policy),
		Corrector: NewCorrector(ledger, audit, d.Policy),
		Audit:     audit,
		Catalog:   NewCatalog(d.Store, ledger),
		Retrier:   retrier,
		Notifier:  d.Notifier,
		Observer:  obs,
		log:       log.Named("fulfillment"),
	}
}

// AddDelivery records a shipment and notifies the customer.
func (s *Service) AddDelivery(ctx context.Context, in AddDeliveryInput) (AddDeliveryResult, error) {
	res, err := s.Recorder.AddDelivery(ctx, in)
	if err != nil {
		s.Observer.OperationRejected("add_delivery", err)
		s.log.Info("add delivery rejected",
			zap.String("order_id", string(in.OrderID)),
			zap.Int("qty", in.Quantity),
			zap.Error(err))
		return res, err
	}

	s.Observer.DeliveryRecorded(res.Event.Quantity)
	s.log.Info("delivery recorded",
		zap.String("order_id", string(res.OrderID)),
		zap.Int("log_index", res.LogIndex),
		zap.Int("qty", res.Event.Quantity),
		zap.Int("total_delivered", res.TotalDelivered),
		zap.String("status", string(res.Status)))

	s.notify(ctx, "delivery", res.OrderID, func(ctx context.Context, n Notifier) error {
		return n.NotifyDelivery(ctx, DeliveryNotice{
			OrderID:        res.OrderID,
			UserID:         res.UserID,
			DeliveryDate:   res.Event.DeliveryDate,
			Quantity:       res.Event.Quantity,
			TotalDelivered: res.TotalDelivered,
			Remaining:      res.Remaining,
			Status:         res.Status,
		})
	})
	return res, nil
}

// CorrectDelivery rewrites a shipment record. When only the audit write
// fails, the result is returned together with the *AuditWriteError and
// the entry is queued for retry.
func (s *Service) CorrectDelivery(ctx context.Context, in CorrectDeliveryInput) (CorrectionResult, error) {
	res, err := s.Corrector.CorrectDelivery(ctx, in)

	var auditErr *AuditWriteError
	switch {
	case errors.As(err, &auditErr):
		s.Observer.AuditWriteFailed()
		s.log.Error("delivery corrected but audit entry not written",
			zap.String("order_id", string(res.OrderID)),
			zap.Int("log_index", res.LogIndex),
			zap.Error(auditErr.Err))
		if s.Retrier != nil {
			s.Retrier.Enqueue(auditErr.Entry)
		}
	case err != nil:
		s.Observer.OperationRejected("correct_delivery", err)
		s.log.Info("correct delivery rejected",
			zap.String("order_id", string(in.OrderID)),
			zap.Int("log_index", in.LogIndex),
			zap.Error(err))
		return res, err
	}

	s.Observer.DeliveryCorrected()
	s.log.Info("delivery corrected",
		zap.String("order_id", string(res.OrderID)),
		zap.Int("log_index", res.LogIndex),
		zap.Int("old_qty", res.Before.Quantity),
		zap.Int("new_qty", res.After.Quantity),
		zap.String("admin", res.Audit.AdminName),
		zap.String("status", string(res.Status)))

	s.notify(ctx, "correction", res.OrderID, func(ctx context.Context, n Notifier) error {
		return n.NotifyCorrection(ctx, CorrectionNotice{
			OrderID:      res.OrderID,
			UserID:       res.UserID,
			DeliveryDate: res.After.DeliveryDate,
			OldQuantity:  res.Before.Quantity,
			NewQuantity:  res.After.Quantity,
			Remaining:    res.Remaining,
			Status:       res.Status,
		})
	})
	return res, err
}

// AuditTrail returns the correction history of an order.
func (s *Service) AuditTrail(ctx context.Context, id OrderID) ([]AuditLogEntry, error) {
	return s.Audit.QueryByOrder(ctx, id)
}

// DeliveryRecords lists all shipments dated date across every order.
func (s *Service) DeliveryRecords(ctx context.Context, date string) ([]DeliveryRecord, error) {
	if strings.TrimSpace(date) == "" {
		return nil, invalid("delivery_date", "is required")
	}
	day, err := NormalizeDeliveryDate(date, s.Recorder.Now(), s.Recorder.Policy.Location)
	if err != nil {
		return nil, err
	}
	orders, err := s.Catalog.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	return DeliveryRecordsOn(orders, day), nil
}

func (s *Service) notify(ctx context.Context, kind string, id OrderID, send func(context.Context, Notifier) error) {
	if s.Notifier == nil {
		return
	}
	if err := send(context.WithoutCancel(ctx), s.Notifier); err != nil {
		s.log.Warn("notification failed",
			zap.String("kind", kind),
			zap.String("order_id", string(id)),
			zap.Error(err))
	}
}
