package fulfillment

import "context"

// DeliveryNotice tells a customer that a shipment went out.
type DeliveryNotice struct {
	OrderID        OrderID `json:"order_id"`
	UserID         UserID  `json:"user_id"`
	DeliveryDate   string  `json:"delivery_date"`
	Quantity       int     `json:"qty"`
	TotalDelivered int     `json:"total_delivered"`
	Remaining      int     `json:"remaining"`
	Status         Status  `json:"status"`
}

// CorrectionNotice tells a customer that a shipment record changed.
type CorrectionNotice struct {
	OrderID      OrderID `json:"order_id"`
	UserID       UserID  `json:"user_id"`
	DeliveryDate string  `json:"delivery_date"`
	OldQuantity  int     `json:"old_qty"`
	NewQuantity  int     `json:"new_qty"`
	Remaining    int     `json:"remaining"`
	Status       Status  `json:"status"`
}

// Notifier delivers customer notices. Errors are logged by the caller and
// never undo the mutation that triggered them.
type Notifier interface {
	NotifyDelivery(ctx context.Context, n DeliveryNotice) error
	NotifyCorrection(ctx context.Context, n CorrectionNotice) error
}

// Observer receives counters for the operations the Service runs.
type Observer interface {
	DeliveryRecorded(qty int)
	DeliveryCorrected()
	OperationRejected(op string, err error)
	AuditWriteFailed()
	AuditRetried(ok bool)
}

type nopObserver struct{}

func (nopObserver) DeliveryRecorded(int)            {}
func (nopObserver) DeliveryCorrected()              {}
func (nopObserver) OperationRejected(string, error) {}
func (nopObserver) AuditWriteFailed()               {}
func (nopObserver) AuditRetried(bool)               {}
