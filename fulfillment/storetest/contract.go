// Package storetest holds the behaviour every OrderCatalog backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/eggstand/fulfillment"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) fulfillment.OrderCatalog

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("SaveRoundTrip", func(t *testing.T) { testSaveRoundTrip(t, newStore(t)) })
	t.Run("SaveStaleVersion", func(t *testing.T) { testSaveStaleVersion(t, newStore(t)) })
	t.Run("SaveMissing", func(t *testing.T) { testSaveMissing(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newStore(t)) })
	t.Run("AuditAppendAndQuery", func(t *testing.T) { testAuditAppendAndQuery(t, newStore(t)) })
	t.Run("AuditRepeatedID", func(t *testing.T) { testAuditRepeatedID(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newOrder(id string, created time.Time) *fulfillment.Order {
	return &fulfillment.Order{
		ID:              fulfillment.OrderID(id),
		UserID:          "U1",
		Items:           "土雞蛋1盤 x22",
		OrderedQuantity: 22,
		Amount:          decimal.RequireFromString("2090.50"),
		PaymentMethod:   "bank_transfer",
		PaymentStatus:   fulfillment.PaymentPending,
		Deliveries:      fulfillment.DeliveryLog{},
		Status:          fulfillment.StatusProcessing,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func testCreateAndGet(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	o := newOrder("O1", base)
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.Equal(t, int64(1), o.Version)

	got, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, fulfillment.UserID("U1"), got.UserID)
	assert.Equal(t, 22, got.OrderedQuantity)
	assert.True(t, o.Amount.Equal(got.Amount))
	assert.Equal(t, fulfillment.StatusProcessing, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 0, got.Deliveries.Len())
	assert.True(t, base.Equal(got.CreatedAt))
}

func testCreateDuplicate(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("O1", base)))
	assert.ErrorIs(t, s.CreateOrder(ctx, newOrder("O1", base)), fulfillment.ErrAlreadyExists)
}

func testGetMissing(t *testing.T, s fulfillment.OrderCatalog) {
	_, err := s.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, fulfillment.ErrOrderNotFound)
}

func testSaveRoundTrip(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("O1", base)))

	o, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	corrected, original := 5, 3
	fixedAt := base.Add(2 * time.Hour)
	o.Deliveries.Append(fulfillment.DeliveryEvent{
		RecordedAt:        base.Add(time.Hour),
		DeliveryDate:      "2025-03-01",
		Quantity:          3,
		CorrectedQuantity: &corrected,
		Address:           "台南市東區",
		IsCorrected:       true,
		OriginalQuantity:  &original,
		CorrectedAt:       &fixedAt,
		CorrectedBy:       "amy",
	})
	o.Deliveries.Append(fulfillment.DeliveryEvent{RecordedAt: base.Add(3 * time.Hour), DeliveryDate: "2025-03-02", Quantity: 17})
	o.Status = fulfillment.StatusCompleted
	o.PaymentStatus = fulfillment.PaymentPaid
	require.NoError(t, s.SaveOrder(ctx, o))
	assert.Equal(t, int64(2), o.Version)

	got, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Deliveries.Len())
	e := got.Deliveries[0]
	assert.Equal(t, 3, e.Quantity)
	require.NotNil(t, e.CorrectedQuantity)
	assert.Equal(t, 5, *e.CorrectedQuantity)
	require.NotNil(t, e.OriginalQuantity)
	assert.Equal(t, 3, *e.OriginalQuantity)
	assert.True(t, e.IsCorrected)
	assert.Equal(t, "台南市東區", e.Address)
	assert.Equal(t, "amy", e.CorrectedBy)
	assert.Nil(t, got.Deliveries[1].CorrectedQuantity)
	assert.Equal(t, 22, got.TotalDelivered())
	assert.Equal(t, fulfillment.StatusCompleted, got.Status)
	assert.Equal(t, fulfillment.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, int64(2), got.Version)
}

func testSaveStaleVersion(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("O1", base)))

	a, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	b, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)

	a.Deliveries.Append(fulfillment.DeliveryEvent{Quantity: 1, DeliveryDate: "2025-03-01"})
	require.NoError(t, s.SaveOrder(ctx, a))

	b.Deliveries.Append(fulfillment.DeliveryEvent{Quantity: 2, DeliveryDate: "2025-03-01"})
	assert.ErrorIs(t, s.SaveOrder(ctx, b), fulfillment.ErrConflict)

	got, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalDelivered())
}

func testSaveMissing(t *testing.T, s fulfillment.OrderCatalog) {
	err := s.SaveOrder(context.Background(), newOrder("ghost", base))
	assert.ErrorIs(t, err, fulfillment.ErrOrderNotFound)
}

func testListNewestFirst(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder("old", base)))
	require.NoError(t, s.CreateOrder(ctx, newOrder("new", base.Add(time.Hour))))

	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, fulfillment.OrderID("new"), orders[0].ID)
	assert.Equal(t, fulfillment.OrderID("old"), orders[1].ID)
}

func auditEntry(id, order string, at time.Time) fulfillment.AuditLogEntry {
	return fulfillment.AuditLogEntry{
		ID:        id,
		OrderID:   fulfillment.OrderID(order),
		Operation: fulfillment.OperationUpdateDelivery,
		AdminName: "amy",
		LogIndex:  0,
		Before:    fulfillment.DeliverySnapshot{Quantity: 3, Address: "A", DeliveryDate: "2025-03-01"},
		After:     fulfillment.DeliverySnapshot{Quantity: 5, Address: "B", DeliveryDate: "2025-03-02"},
		Reason:    "miscount",
		Timestamp: at,
	}
}

func testAuditAppendAndQuery(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.AppendAuditLog(ctx, auditEntry("a1", "O1", base)))
	require.NoError(t, s.AppendAuditLog(ctx, auditEntry("a2", "O2", base)))
	require.NoError(t, s.AppendAuditLog(ctx, auditEntry("a3", "O1", base.Add(time.Minute))))

	entries, err := s.QueryAuditLogsByOrder(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ID)
	assert.Equal(t, "a3", entries[1].ID)
	assert.Equal(t, 3, entries[0].Before.Quantity)
	assert.Equal(t, "B", entries[0].After.Address)
	assert.Equal(t, "miscount", entries[0].Reason)
	assert.Equal(t, fulfillment.OperationUpdateDelivery, entries[0].Operation)

	none, err := s.QueryAuditLogsByOrder(ctx, "O3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAuditRepeatedID(t *testing.T, s fulfillment.OrderCatalog) {
	ctx := context.Background()
	require.NoError(t, s.AppendAuditLog(ctx, auditEntry("a1", "O1", base)))
	require.NoError(t, s.AppendAuditLog(ctx, auditEntry("a1", "O1", base)))

	entries, err := s.QueryAuditLogsByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
