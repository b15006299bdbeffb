package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/eggstand/fulfillment"
	"github.com/warp/eggstand/fulfillment/storetest"
	"github.com/warp/eggstand/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) fulfillment.OrderCatalog {
		return newTestStore(t)
	})
}

// =============================================================================
// END TO END THROUGH THE SERVICE
// =============================================================================

func TestStore_CorrectionFlow(t *testing.T) {
	// GIVEN: An order for 22 with shipments [3, 17] stored in SQLite
	store := newTestStore(t)
	svc := fulfillment.NewService(fulfillment.Deps{Store: store, Policy: fulfillment.DefaultPolicy()})
	ctx := context.Background()

	_, err := svc.Catalog.CreateOrder(ctx, fulfillment.NewOrderInput{OrderID: "O1", UserID: "U1", Items: "土雞蛋1盤 x22"})
	require.NoError(t, err)
	for _, qty := range []int{3, 17} {
		_, err := svc.AddDelivery(ctx, fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: qty, DeliveryDate: "2025-03-01"})
		require.NoError(t, err)
	}

	// WHEN: The first shipment is corrected to 5
	res, err := svc.CorrectDelivery(ctx, fulfillment.CorrectDeliveryInput{
		OrderID:     "O1",
		LogIndex:    0,
		NewQuantity: 5,
		Reason:      "miscounted",
		AdminName:   "amy",
	})
	require.NoError(t, err)

	// THEN: The row reflects the correction and the audit row exists
	assert.Equal(t, fulfillment.StatusCompleted, res.Status)

	order, err := store.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 22, order.TotalDelivered())
	assert.Equal(t, fulfillment.StatusCompleted, order.Status)
	assert.Equal(t, int64(4), order.Version)
	require.NotNil(t, order.Deliveries[0].OriginalQuantity)
	assert.Equal(t, 3, *order.Deliveries[0].OriginalQuantity)

	trail, err := store.QueryAuditLogsByOrder(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "amy", trail[0].AdminName)
	assert.Equal(t, 3, trail[0].Before.Quantity)
	assert.Equal(t, 5, trail[0].After.Quantity)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, &fulfillment.Order{ID: "O1", UserID: "U1", OrderedQuantity: 1, Status: fulfillment.StatusProcessing, PaymentStatus: fulfillment.PaymentPending}))

	require.NoError(t, store.Reset(ctx))

	orders, err := store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, store.Ping(ctx))
}

func TestStore_CorruptTimestampsAreReported(t *testing.T) {
	// GIVEN: A file-backed store holding an order and one audit entry
	path := filepath.Join(t.TempDir(), "eggs.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, &fulfillment.Order{ID: "O1", UserID: "U1", OrderedQuantity: 1, Status: fulfillment.StatusProcessing, PaymentStatus: fulfillment.PaymentPending}))
	require.NoError(t, store.AppendAuditLog(ctx, fulfillment.AuditLogEntry{ID: "A1", OrderID: "O1", Operation: fulfillment.OperationUpdateDelivery, Reason: "typo"}))

	// WHEN: Another writer leaves unparseable timestamps behind
	raw, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE orders SET created_at = 'yesterday-ish' WHERE id = 'O1'`)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE audit_logs SET created_at = 'not a time' WHERE id = 'A1'`)
	require.NoError(t, err)

	// THEN: Reads fail loudly instead of returning zero times
	_, err = store.GetOrder(ctx, "O1")
	assert.ErrorContains(t, err, "bad created_at")

	_, err = store.QueryAuditLogsByOrder(ctx, "O1")
	assert.ErrorContains(t, err, "bad created_at")
}
