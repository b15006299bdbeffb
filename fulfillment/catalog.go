package fulfillment

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var itemQuantityRe = regexp.MustCompile(`x(\d+)`)

// ParseOrderedQuantity reads the quantity out of an item description such
// as "土雞蛋1盤 x22". Missing or non-positive counts default to 1.
func ParseOrderedQuantity(items string) int {
	m := itemQuantityRe.FindStringSubmatch(items)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// NewOrderInput creates an order. OrderedQuantity is parsed from Items
// when zero.
type NewOrderInput struct {
	OrderID         OrderID
	UserID          UserID
	Items           string
	OrderedQuantity int
	Amount          decimal.Decimal
	PaymentMethod   string
	PaymentStatus   PaymentStatus
}

// Catalog covers the order operations around fulfillment: creation,
// listing and the payment-status passthrough.
type Catalog struct {
	Store  OrderCatalog
	Ledger *OrderLedger
	Now    func() time.Time
}

func NewCatalog(store OrderCatalog, ledger *OrderLedger) *Catalog {
	return &Catalog{Store: store, Ledger: ledger, Now: time.Now}
}

func (c *Catalog) CreateOrder(ctx context.Context, in NewOrderInput) (*Order, error) {
	if in.OrderID == "" {
		return nil, invalid("orderId", "is required")
	}
	if in.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	qty := in.OrderedQuantity
	if qty < 0 {
		return nil, invalid("totalOrdered", "must not be negative")
	}
	if qty == 0 {
		qty = ParseOrderedQuantity(in.Items)
	}
	payment := in.PaymentStatus
	if payment == "" {
		payment = PaymentPending
	}

	now := c.Now().UTC()
	order := &Order{
		ID:              in.OrderID,
		UserID:          in.UserID,
		Items:           strings.TrimSpace(in.Items),
		OrderedQuantity: qty,
		Amount:          in.Amount,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   payment,
		Deliveries:      DeliveryLog{},
		Status:          StatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.Store.CreateOrder(ctx, order); err != nil {
		return nil, wrapStorage("create order", err)
	}
	return order, nil
}

func (c *Catalog) GetOrder(ctx context.Context, id OrderID) (*Order, error) {
	return c.Ledger.Get(ctx, id)
}

func (c *Catalog) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := c.Store.ListOrders(ctx)
	if err != nil {
		return nil, wrapStorage("list orders", err)
	}
	return orders, nil
}

// UpdatePaymentStatus goes through the ledger so it cannot interleave
// with a delivery mutation on the same order.
func (c *Catalog) UpdatePaymentStatus(ctx context.Context, id OrderID, status PaymentStatus) (*Order, error) {
	if strings.TrimSpace(string(status)) == "" {
		return nil, invalid("paymentStatus", "is required")
	}
	return c.Ledger.Update(ctx, id, func(o *Order) error {
		o.PaymentStatus = status
		return nil
	})
}
