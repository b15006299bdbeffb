/*
corrector.go - Post-hoc correction of delivery records

FLOW:
  1. Validate reason and quantity before touching storage
  2. Under the order's lock: capture the event's current effective
     quantity, address and date
  3. On first correction snapshot Quantity into OriginalQuantity
  4. Write CorrectedQuantity, Address, DeliveryDate; re-derive status
  5. Persist the order
  6. Append an update_delivery audit entry, still under the lock so the
     trail follows the order of the saves

STRICT MODE:
  A correction may not push the total past the ordered quantity. An order
  that is already over (recorded in permissive mode, or a legacy row) can
  still be corrected as long as the change does not raise its total.

STEP 6 IS NOT ATOMIC WITH STEP 5:
  If the audit append fails the correction stays persisted. The caller
  gets the full CorrectionResult together with an *AuditWriteError that
  carries the entry, and is expected to hand it to the AuditRetrier.

EMPTY FIELDS:
  An empty NewAddress or NewDeliveryDate keeps the current value. An
  empty AdminName is recorded as "unknown".
*/
package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"
)

const unknownAdmin = "unknown"

// CorrectDeliveryInput identifies the event by position in the log.
type CorrectDeliveryInput struct {
	OrderID         OrderID
	LogIndex        int
	NewQuantity     int
	NewAddress      string
	NewDeliveryDate string
	Reason          string
	AdminName       string
}

// CorrectionResult reports the event before and after the change plus the
// re-derived order aggregates.
type CorrectionResult struct {
	OrderID         OrderID
	UserID          UserID
	LogIndex        int
	Before          DeliverySnapshot
	After           DeliverySnapshot
	OrderedQuantity int
	TotalDelivered  int
	Remaining       int
	Status          Status
	Audit           AuditLogEntry
}

// Corrector rewrites delivery events and records why.
type Corrector struct {
	Ledger *OrderLedger
	Audit  *AuditLogger
	Policy Policy
	Now    func() time.Time
}

func NewCorrector(ledger *OrderLedger, audit *AuditLogger, policy Policy) *Corrector {
	return &Corrector{Ledger: ledger, Audit: audit, Policy: policy, Now: time.Now}
}

// CorrectDelivery applies the correction and writes the audit entry.
func (c *Corrector) CorrectDelivery(ctx context.Context, in CorrectDeliveryInput) (CorrectionResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return CorrectionResult{}, invalid("reason", "is required")
	}
	if in.OrderID == "" {
		return CorrectionResult{}, invalid("orderId", "is required")
	}
	if in.NewQuantity <= 0 {
		return CorrectionResult{}, invalid("newQty", "must be greater than zero")
	}

	now := c.Now()
	newDate := ""
	if strings.TrimSpace(in.NewDeliveryDate) != "" {
		d, err := NormalizeDeliveryDate(in.NewDeliveryDate, now, c.Policy.Location)
		if err != nil {
			return CorrectionResult{}, err
		}
		newDate = d
	}
	admin := strings.TrimSpace(in.AdminName)
	if admin == "" {
		admin = unknownAdmin
	}

	var (
		before, after DeliverySnapshot
		entry         AuditLogEntry
		auditErr      error
	)
	mutate := func(o *Order) error {
		current, ok := o.Deliveries.At(in.LogIndex)
		if !ok {
			return &DeliveryNotFoundError{OrderID: o.ID, Index: in.LogIndex, Len: o.Deliveries.Len()}
		}

		if c.Policy.StrictOverDelivery {
			total := o.TotalDelivered() - current.Effective() + in.NewQuantity
			if total > o.OrderedQuantity && in.NewQuantity > current.Effective() {
				return &OverDeliveryError{OrderID: o.ID, Ordered: o.OrderedQuantity, Delivered: total}
			}
		}

		fix := Correction{
			Quantity:     in.NewQuantity,
			Address:      current.Address,
			DeliveryDate: current.DeliveryDate,
			By:           admin,
			At:           now.UTC(),
		}
		if a := strings.TrimSpace(in.NewAddress); a != "" {
			fix.Address = a
		}
		if newDate != "" {
			fix.DeliveryDate = newDate
		}

		b, err := o.Deliveries.Correct(in.LogIndex, fix)
		if err != nil {
			var nf *DeliveryNotFoundError
			if errors.As(err, &nf) {
				nf.OrderID = o.ID
			}
			return err
		}
		before = b
		after = o.Deliveries[in.LogIndex].Snapshot()
		return nil
	}
	appendAudit := func(o *Order) {
		entry, auditErr = c.Audit.Append(ctx, AuditLogEntry{
			OrderID:   o.ID,
			Operation: OperationUpdateDelivery,
			AdminName: admin,
			LogIndex:  in.LogIndex,
			Before:    before,
			After:     after,
			Reason:    reason,
		})
	}

	order, err := c.Ledger.UpdateThen(ctx, in.OrderID, mutate, appendAudit)
	if err != nil {
		return CorrectionResult{}, err
	}

	result := CorrectionResult{
		OrderID:         order.ID,
		UserID:          order.UserID,
		LogIndex:        in.LogIndex,
		Before:          before,
		After:           after,
		OrderedQuantity: order.OrderedQuantity,
		TotalDelivered:  order.TotalDelivered(),
		Remaining:       order.Remaining(),
		Status:          order.Status,
		Audit:           entry,
	}
	if auditErr != nil {
		return result, &AuditWriteError{Entry: entry, Err: auditErr}
	}
	return result, nil
}
