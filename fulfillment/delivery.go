package fulfillment

import "time"

// DeliveryLog is an order's shipments in recording order. Positions are
// stable: events are appended, never removed, and corrected in place.
type DeliveryLog []DeliveryEvent

// Len returns the number of events.
func (l DeliveryLog) Len() int { return len(l) }

// Clone returns a deep copy, including the pointer fields of each event.
func (l DeliveryLog) Clone() DeliveryLog {
	if l == nil {
		return nil
	}
	out := make(DeliveryLog, len(l))
	for i, e := range l {
		out[i] = e
		out[i].CorrectedQuantity = copyInt(e.CorrectedQuantity)
		out[i].OriginalQuantity = copyInt(e.OriginalQuantity)
		if e.CorrectedAt != nil {
			t := *e.CorrectedAt
			out[i].CorrectedAt = &t
		}
	}
	return out
}

// Append adds an event and returns its index.
func (l *DeliveryLog) Append(e DeliveryEvent) int {
	*l = append(*l, e)
	return len(*l) - 1
}

// At returns the event at index.
func (l DeliveryLog) At(index int) (DeliveryEvent, bool) {
	if index < 0 || index >= len(l) {
		return DeliveryEvent{}, false
	}
	return l[index], true
}

// Correction is the new state an admin assigns to a delivery event.
type Correction struct {
	Quantity     int
	Address      string
	DeliveryDate string
	By           string
	At           time.Time
}

// Correct applies c to the event at index and returns the state before
// the change. The first correction snapshots Quantity into
// OriginalQuantity; later corrections leave it alone.
func (l DeliveryLog) Correct(index int, c Correction) (DeliverySnapshot, error) {
	e, ok := l.At(index)
	if !ok {
		return DeliverySnapshot{}, &DeliveryNotFoundError{Index: index, Len: len(l)}
	}
	before := e.Snapshot()

	if !e.IsCorrected {
		orig := e.Quantity
		e.OriginalQuantity = &orig
		e.IsCorrected = true
	}
	qty := c.Quantity
	at := c.At
	e.CorrectedQuantity = &qty
	e.Address = c.Address
	e.DeliveryDate = c.DeliveryDate
	e.CorrectedAt = &at
	e.CorrectedBy = c.By

	l[index] = e
	return before, nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
