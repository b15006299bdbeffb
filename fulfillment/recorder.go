package fulfillment

import (
	"context"
	"strings"
	"time"
)

// Policy holds the knobs shared by Recorder and Corrector.
type Policy struct {
	// StrictOverDelivery rejects any mutation that would push the total
	// past the ordered quantity. When false, over-delivery is recorded and
	// the order simply reads as completed.
	StrictOverDelivery bool

	// Location resolves "today" for deliveries recorded without a date.
	Location *time.Location
}

// DefaultPolicy enforces the over-delivery guard in UTC.
func DefaultPolicy() Policy {
	return Policy{StrictOverDelivery: true, Location: time.UTC}
}

// AddDeliveryInput describes one shipment.
type AddDeliveryInput struct {
	OrderID      OrderID
	Quantity     int
	Address      string
	DeliveryDate string // optional; defaults to today
}

// AddDeliveryResult is what the admin UI and the notifier need back.
type AddDeliveryResult struct {
	OrderID         OrderID
	UserID          UserID
	OrderedQuantity int
	TotalDelivered  int
	Remaining       int
	Status          Status
	LogIndex        int
	Event           DeliveryEvent
}

// Recorder appends shipments to orders.
type Recorder struct {
	Ledger *OrderLedger
	Policy Policy
	Now    func() time.Time
}

func NewRecorder(ledger *OrderLedger, policy Policy) *Recorder {
	return &Recorder{Ledger: ledger, Policy: policy, Now: time.Now}
}

// AddDelivery appends a delivery event, re-derives the order status and
// persists the order.
func (r *Recorder) AddDelivery(ctx context.Context, in AddDeliveryInput) (AddDeliveryResult, error) {
	if in.OrderID == "" {
		return AddDeliveryResult{}, invalid("orderId", "is required")
	}
	if in.Quantity <= 0 {
		return AddDeliveryResult{}, invalid("qty", "must be greater than zero")
	}
	now := r.Now()
	date, err := NormalizeDeliveryDate(in.DeliveryDate, now, r.Policy.Location)
	if err != nil {
		return AddDeliveryResult{}, err
	}

	event := DeliveryEvent{
		RecordedAt:   now.UTC(),
		DeliveryDate: date,
		Quantity:     in.Quantity,
		Address:      strings.TrimSpace(in.Address),
	}

	var index int
	order, err := r.Ledger.Update(ctx, in.OrderID, func(o *Order) error {
		if r.Policy.StrictOverDelivery {
			if total := o.TotalDelivered() + in.Quantity; total > o.OrderedQuantity {
				return &OverDeliveryError{OrderID: o.ID, Ordered: o.OrderedQuantity, Delivered: total}
			}
		}
		index = o.Deliveries.Append(event)
		return nil
	})
	if err != nil {
		return AddDeliveryResult{}, err
	}

	return AddDeliveryResult{
		OrderID:         order.ID,
		UserID:          order.UserID,
		OrderedQuantity: order.OrderedQuantity,
		TotalDelivered:  order.TotalDelivered(),
		Remaining:       order.Remaining(),
		Status:          order.Status,
		LogIndex:        index,
		Event:           event,
	}, nil
}
