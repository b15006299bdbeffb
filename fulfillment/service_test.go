package fulfillment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/eggstand/fulfillment"
	"github.com/warp/eggstand/fulfillment/store"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type recordingNotifier struct {
	mu          sync.Mutex
	deliveries  []fulfillment.DeliveryNotice
	corrections []fulfillment.CorrectionNotice
	err         error
}

func (n *recordingNotifier) NotifyDelivery(_ context.Context, d fulfillment.DeliveryNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return n.err
}

func (n *recordingNotifier) NotifyCorrection(_ context.Context, c fulfillment.CorrectionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.corrections = append(n.corrections, c)
	return n.err
}

// flakyAudit fails audit writes while failing is set.
type flakyAudit struct {
	*store.Memory
	failing atomic.Bool
}

func (f *flakyAudit) AppendAuditLog(ctx context.Context, e fulfillment.AuditLogEntry) error {
	if f.failing.Load() {
		return errors.New("audit sheet unavailable")
	}
	return f.Memory.AppendAuditLog(ctx, e)
}

func newTestService(t *testing.T, st fulfillment.OrderCatalog) (*fulfillment.Service, *recordingNotifier) {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	n := &recordingNotifier{}
	svc := fulfillment.NewService(fulfillment.Deps{
		Store:    st,
		Notifier: n,
		Policy:   fulfillment.DefaultPolicy(),
	})
	svc.Recorder.Now = fixedNow
	svc.Corrector.Now = fixedNow
	svc.Catalog.Now = fixedNow
	return svc, n
}

func createOrder(t *testing.T, svc *fulfillment.Service, id string, ordered int) {
	t.Helper()
	_, err := svc.Catalog.CreateOrder(context.Background(), fulfillment.NewOrderInput{
		OrderID:         fulfillment.OrderID(id),
		UserID:          "U-" + fulfillment.UserID(id),
		Items:           fmt.Sprintf("土雞蛋1盤 x%d", ordered),
		OrderedQuantity: ordered,
	})
	require.NoError(t, err)
}

func addDelivery(t *testing.T, svc *fulfillment.Service, id string, qty int) fulfillment.AddDeliveryResult {
	t.Helper()
	res, err := svc.AddDelivery(context.Background(), fulfillment.AddDeliveryInput{
		OrderID:  fulfillment.OrderID(id),
		Quantity: qty,
		Address:  "台南市東區",
	})
	require.NoError(t, err)
	return res
}

func correct(svc *fulfillment.Service, id string, index, qty int, reason string) (fulfillment.CorrectionResult, error) {
	return svc.CorrectDelivery(context.Background(), fulfillment.CorrectDeliveryInput{
		OrderID:     fulfillment.OrderID(id),
		LogIndex:    index,
		NewQuantity: qty,
		Reason:      reason,
		AdminName:   "amy",
	})
}

// =============================================================================
// ADD DELIVERY
// =============================================================================

func TestAddDelivery_ExactFillCompletesOrder(t *testing.T) {
	// GIVEN: An order for 22
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 22)

	// WHEN: 3 then 19 are shipped
	first := addDelivery(t, svc, "O1", 3)
	second := addDelivery(t, svc, "O1", 19)

	// THEN: The order reads completed at exactly 22
	assert.Equal(t, fulfillment.StatusPartiallyDelivered, first.Status)
	assert.Equal(t, 22, second.TotalDelivered)
	assert.Equal(t, 0, second.Remaining)
	assert.Equal(t, fulfillment.StatusCompleted, second.Status)
	assert.Equal(t, 1, second.LogIndex)
}

func TestAddDelivery_Partial(t *testing.T) {
	svc, n := newTestService(t, nil)
	createOrder(t, svc, "O1", 22)

	res := addDelivery(t, svc, "O1", 5)

	assert.Equal(t, 5, res.TotalDelivered)
	assert.Equal(t, 17, res.Remaining)
	assert.Equal(t, fulfillment.StatusPartiallyDelivered, res.Status)
	assert.Equal(t, "2025-03-10", res.Event.DeliveryDate, "date defaults to today")
	assert.Equal(t, testNow, res.Event.RecordedAt)

	require.Len(t, n.deliveries, 1)
	assert.Equal(t, fulfillment.UserID("U-O1"), n.deliveries[0].UserID)
	assert.Equal(t, 17, n.deliveries[0].Remaining)
}

func TestAddDelivery_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 22)
	ctx := context.Background()

	_, err := svc.AddDelivery(ctx, fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: 0})
	assert.ErrorIs(t, err, fulfillment.ErrValidation)

	_, err = svc.AddDelivery(ctx, fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: 1, DeliveryDate: "03-2025-10"})
	assert.ErrorIs(t, err, fulfillment.ErrValidation)

	_, err = svc.AddDelivery(ctx, fulfillment.AddDeliveryInput{OrderID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, fulfillment.ErrOrderNotFound)
	assert.True(t, fulfillment.IsNotFound(err))
}

func TestAddDelivery_OverDeliveryRejectedWithoutChange(t *testing.T) {
	// GIVEN: An order for 10 with 8 shipped
	svc, n := newTestService(t, nil)
	createOrder(t, svc, "O1", 10)
	addDelivery(t, svc, "O1", 8)

	// WHEN: 3 more are recorded
	_, err := svc.AddDelivery(context.Background(), fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: 3})

	// THEN: Rejected, nothing changed, no extra notification
	var over *fulfillment.OverDeliveryError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, 11, over.Delivered)
	assert.True(t, fulfillment.IsClientError(err))

	order, err := svc.Catalog.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.Deliveries.Len())
	assert.Equal(t, 8, order.TotalDelivered())
	assert.Len(t, n.deliveries, 1)
}

func TestAddDelivery_PermissiveModeAllowsOverDelivery(t *testing.T) {
	svc, _ := newTestService(t, nil)
	svc.Recorder.Policy.StrictOverDelivery = false
	createOrder(t, svc, "O1", 10)

	res := addDelivery(t, svc, "O1", 12)

	assert.Equal(t, 12, res.TotalDelivered)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, fulfillment.StatusCompleted, res.Status)
}

func TestAddDelivery_NotifierFailureIsNotFatal(t *testing.T) {
	svc, n := newTestService(t, nil)
	n.err = errors.New("line api down")
	createOrder(t, svc, "O1", 5)

	res, err := svc.AddDelivery(context.Background(), fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalDelivered)
}

// =============================================================================
// CORRECT DELIVERY
// =============================================================================

func TestCorrectDelivery_CompletesOrder(t *testing.T) {
	// GIVEN: Order for 22 with shipments [3, 17]
	svc, n := newTestService(t, nil)
	createOrder(t, svc, "O1", 22)
	addDelivery(t, svc, "O1", 3)
	addDelivery(t, svc, "O1", 17)

	// WHEN: The first shipment is corrected to 5
	res, err := correct(svc, "O1", 0, 5, "miscounted trays")
	require.NoError(t, err)

	// THEN: Total is 22 and the order is completed
	assert.Equal(t, 22, res.TotalDelivered)
	assert.Equal(t, fulfillment.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Before.Quantity)
	assert.Equal(t, 5, res.After.Quantity)

	require.Len(t, n.corrections, 1)
	assert.Equal(t, 3, n.corrections[0].OldQuantity)
	assert.Equal(t, 5, n.corrections[0].NewQuantity)
}

func TestCorrectDelivery_ReducingQuantity(t *testing.T) {
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)
	addDelivery(t, svc, "O1", 10)

	res, err := correct(svc, "O1", 0, 8, "two trays broken")
	require.NoError(t, err)

	assert.Equal(t, 18, res.TotalDelivered)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, fulfillment.StatusPartiallyDelivered, res.Status)
}

func TestCorrectDelivery_OriginalPreservedAndAudited(t *testing.T) {
	// GIVEN: One shipment of 10
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)

	// WHEN: Corrected to 8, then to 9 with a new address and date
	_, err := correct(svc, "O1", 0, 8, "first fix")
	require.NoError(t, err)
	_, err = svc.CorrectDelivery(ctx, fulfillment.CorrectDeliveryInput{
		OrderID:         "O1",
		LogIndex:        0,
		NewQuantity:     9,
		NewAddress:      "台南市北區",
		NewDeliveryDate: "2025-03-09",
		Reason:          "second fix",
		AdminName:       "bob",
	})
	require.NoError(t, err)

	// THEN: originalQuantity is still 10, the event carries the latest values
	order, err := svc.Catalog.GetOrder(ctx, "O1")
	require.NoError(t, err)
	e := order.Deliveries[0]
	require.NotNil(t, e.OriginalQuantity)
	assert.Equal(t, 10, *e.OriginalQuantity)
	assert.Equal(t, 10, e.Quantity)
	assert.Equal(t, 9, e.Effective())
	assert.Equal(t, "台南市北區", e.Address)
	assert.Equal(t, "2025-03-09", e.DeliveryDate)

	// AND: Two audit entries in order, each with before/after/reason
	trail, err := svc.AuditTrail(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, trail, 2)

	assert.Equal(t, fulfillment.OperationUpdateDelivery, trail[0].Operation)
	assert.Equal(t, "amy", trail[0].AdminName)
	assert.Equal(t, "first fix", trail[0].Reason)
	assert.Equal(t, 10, trail[0].Before.Quantity)
	assert.Equal(t, 8, trail[0].After.Quantity)
	assert.Equal(t, "台南市東區", trail[0].After.Address, "empty address keeps the current one")
	assert.NotEmpty(t, trail[0].ID)

	assert.Equal(t, "bob", trail[1].AdminName)
	assert.Equal(t, 8, trail[1].Before.Quantity)
	assert.Equal(t, 9, trail[1].After.Quantity)
	assert.Equal(t, "2025-03-10", trail[1].Before.DeliveryDate)
	assert.Equal(t, "2025-03-09", trail[1].After.DeliveryDate)
}

func TestCorrectDelivery_EmptyReasonRejected(t *testing.T) {
	// GIVEN: One shipment of 10
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)
	before, err := svc.Catalog.GetOrder(ctx, "O1")
	require.NoError(t, err)

	// WHEN: A correction arrives with a blank reason
	_, err = correct(svc, "O1", 0, 8, "   ")

	// THEN: Validation error, no audit, no mutation
	assert.ErrorIs(t, err, fulfillment.ErrValidation)

	trail, err := svc.AuditTrail(ctx, "O1")
	require.NoError(t, err)
	assert.Empty(t, trail)

	after, err := svc.Catalog.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.False(t, after.Deliveries[0].IsCorrected)
	assert.Nil(t, after.Deliveries[0].CorrectedQuantity)
}

func TestCorrectDelivery_IndexOutOfRange(t *testing.T) {
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)

	_, err := correct(svc, "O1", 1, 5, "wrong row")

	var nf *fulfillment.DeliveryNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, fulfillment.OrderID("O1"), nf.OrderID)
	assert.True(t, fulfillment.IsNotFound(err))
}

func TestCorrectDelivery_OverDeliveryRejected(t *testing.T) {
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)
	addDelivery(t, svc, "O1", 10)

	_, err := correct(svc, "O1", 0, 11, "typo")

	assert.ErrorIs(t, err, fulfillment.ErrOverDelivery)
	trail, _ := svc.AuditTrail(context.Background(), "O1")
	assert.Empty(t, trail)
}

func TestCorrectDelivery_OverDeliveredOrderCanBeCorrectedDown(t *testing.T) {
	// GIVEN: An order for 22 that took 30 while recording was permissive
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 22)
	svc.Recorder.Policy.StrictOverDelivery = false
	for i := 0; i < 3; i++ {
		addDelivery(t, svc, "O1", 10)
	}
	svc.Recorder.Policy.StrictOverDelivery = true
	require.True(t, svc.Corrector.Policy.StrictOverDelivery)

	// WHEN: A shipment is corrected down, total still above the order
	res, err := correct(svc, "O1", 0, 5, "only five left the farm")

	// THEN: The correction lands and moves the total toward the order
	require.NoError(t, err)
	assert.Equal(t, 25, res.TotalDelivered)
	assert.Equal(t, fulfillment.StatusCompleted, res.Status)

	// AND: Raising a shipment on the still-over order is rejected
	_, err = correct(svc, "O1", 1, 11, "typo")
	assert.ErrorIs(t, err, fulfillment.ErrOverDelivery)

	trail, err := svc.AuditTrail(context.Background(), "O1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestCorrectDelivery_ConcurrentCorrectionsKeepAuditChain(t *testing.T) {
	// GIVEN: One shipment of 1 on an order for 100
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 100)
	addDelivery(t, svc, "O1", 1)

	// WHEN: 20 corrections of the same shipment race
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		qty := i + 2
		g.Go(func() error {
			_, err := correct(svc, "O1", 0, qty, fmt.Sprintf("recount %d", qty))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Each audit entry starts where the previous one ended
	trail, err := svc.AuditTrail(context.Background(), "O1")
	require.NoError(t, err)
	require.Len(t, trail, 20)
	assert.Equal(t, 1, trail[0].Before.Quantity)
	for i := 1; i < len(trail); i++ {
		assert.Equal(t, trail[i-1].After.Quantity, trail[i].Before.Quantity, "entry %d", i)
	}

	order, err := svc.Catalog.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, trail[19].After.Quantity, order.TotalDelivered())
}

func TestCorrectDelivery_AuditFailureKeepsMutationAndQueuesRetry(t *testing.T) {
	// GIVEN: A store whose audit writes fail
	st := &flakyAudit{Memory: store.NewMemory()}
	svc, n := newTestService(t, st)
	ctx := context.Background()
	createOrder(t, svc, "O1", 20)
	addDelivery(t, svc, "O1", 10)
	st.failing.Store(true)

	// WHEN: A delivery is corrected
	res, err := correct(svc, "O1", 0, 8, "broken trays")

	// THEN: AuditWriteError, but the correction is persisted
	var auditErr *fulfillment.AuditWriteError
	require.ErrorAs(t, err, &auditErr)
	assert.ErrorIs(t, err, fulfillment.ErrAuditWrite)
	assert.Equal(t, 8, res.TotalDelivered)
	assert.Equal(t, "broken trays", auditErr.Entry.Reason)

	order, err := svc.Catalog.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, 8, order.TotalDelivered())
	assert.Equal(t, 1, svc.Retrier.Pending())

	// AND: The customer still hears about the persisted correction
	require.Len(t, n.corrections, 1)
	assert.Equal(t, 8, n.corrections[0].NewQuantity)

	// AND: Once the audit store recovers, the retrier writes the entry once
	st.failing.Store(false)
	assert.Equal(t, 0, svc.Retrier.RetryNow(ctx))
	assert.Equal(t, 0, svc.Retrier.RetryNow(ctx))

	trail, err := svc.AuditTrail(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, auditErr.Entry.ID, trail[0].ID)
}

func TestAuditRetrier_GivesUpAfterMaxAttempts(t *testing.T) {
	st := &flakyAudit{Memory: store.NewMemory()}
	st.failing.Store(true)
	svc, _ := newTestService(t, st)
	svc.Retrier.MaxAttempts = 2

	svc.Retrier.Enqueue(fulfillment.AuditLogEntry{ID: "a1", OrderID: "O1", Reason: "x"})

	assert.Equal(t, 1, svc.Retrier.RetryNow(context.Background()))
	assert.Equal(t, 0, svc.Retrier.RetryNow(context.Background()))
}

func TestAuditRetrier_StartStop(t *testing.T) {
	st := &flakyAudit{Memory: store.NewMemory()}
	svc, _ := newTestService(t, st)
	svc.Retrier.Interval = time.Hour

	svc.Retrier.Enqueue(fulfillment.AuditLogEntry{ID: "a1", OrderID: "O1", Reason: "x"})
	svc.Retrier.Start()
	svc.Retrier.Stop()

	assert.Equal(t, 0, svc.Retrier.Pending(), "stop flushes pending entries")
	trail, err := st.QueryAuditLogsByOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAddDelivery_ConcurrentDistinctOrders(t *testing.T) {
	// GIVEN: Ten orders for 10 each
	svc, _ := newTestService(t, nil)
	for i := 0; i < 10; i++ {
		createOrder(t, svc, fmt.Sprintf("O%d", i), 10)
	}

	// WHEN: Each gets 10 single-unit shipments, all in parallel
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		id := fulfillment.OrderID(fmt.Sprintf("O%d", i))
		for j := 0; j < 10; j++ {
			g.Go(func() error {
				_, err := svc.AddDelivery(context.Background(), fulfillment.AddDeliveryInput{OrderID: id, Quantity: 1})
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	// THEN: Every order is exactly complete
	orders, err := svc.Catalog.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 10)
	for _, o := range orders {
		assert.Equal(t, 10, o.TotalDelivered(), "order %s", o.ID)
		assert.Equal(t, 10, o.Deliveries.Len())
		assert.Equal(t, fulfillment.StatusCompleted, o.Status)
	}
}

func TestAddDelivery_ConcurrentSameOrderNeverExceedsOrdered(t *testing.T) {
	// GIVEN: One order for 25
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 25)

	// WHEN: 40 single-unit shipments race
	var ok, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 40; i++ {
		g.Go(func() error {
			_, err := svc.AddDelivery(context.Background(), fulfillment.AddDeliveryInput{OrderID: "O1", Quantity: 1})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, fulfillment.ErrOverDelivery):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Exactly 25 land, the rest are rejected, nothing is lost
	assert.Equal(t, int32(25), ok.Load())
	assert.Equal(t, int32(15), rejected.Load())
	order, err := svc.Catalog.GetOrder(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, 25, order.TotalDelivered())
	assert.Equal(t, fulfillment.StatusCompleted, order.Status)
}

// =============================================================================
// CATALOG + REPORT
// =============================================================================

func TestCatalog_CreateOrderParsesQuantity(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	order, err := svc.Catalog.CreateOrder(ctx, fulfillment.NewOrderInput{
		OrderID: "O1",
		UserID:  "U1",
		Items:   "土雞蛋1盤 x22",
	})
	require.NoError(t, err)
	assert.Equal(t, 22, order.OrderedQuantity)
	assert.Equal(t, fulfillment.StatusProcessing, order.Status)
	assert.Equal(t, fulfillment.PaymentPending, order.PaymentStatus)

	_, err = svc.Catalog.CreateOrder(ctx, fulfillment.NewOrderInput{OrderID: "O1", UserID: "U1"})
	assert.ErrorIs(t, err, fulfillment.ErrAlreadyExists)
}

func TestCatalog_UpdatePaymentStatusKeepsDeliveries(t *testing.T) {
	svc, _ := newTestService(t, nil)
	createOrder(t, svc, "O1", 10)
	addDelivery(t, svc, "O1", 4)

	order, err := svc.Catalog.UpdatePaymentStatus(context.Background(), "O1", fulfillment.PaymentPaid)
	require.NoError(t, err)

	assert.Equal(t, fulfillment.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, 4, order.TotalDelivered())
	assert.Equal(t, fulfillment.StatusPartiallyDelivered, order.Status)
}

func TestService_DeliveryRecords(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	createOrder(t, svc, "O1", 20)
	createOrder(t, svc, "O2", 20)
	addDelivery(t, svc, "O1", 10)
	addDelivery(t, svc, "O2", 4)
	_, err := svc.AddDelivery(ctx, fulfillment.AddDeliveryInput{OrderID: "O2", Quantity: 3, DeliveryDate: "2025-03-11"})
	require.NoError(t, err)
	_, err = correct(svc, "O1", 0, 9, "recount")
	require.NoError(t, err)

	records, err := svc.DeliveryRecords(ctx, "2025-03-10")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, fulfillment.OrderID("O1"), records[0].OrderID)
	assert.Equal(t, 9, records[0].Quantity)
	assert.True(t, records[0].IsCorrected)
	assert.Equal(t, fulfillment.OrderID("O2"), records[1].OrderID)
	assert.Equal(t, 4, records[1].Quantity)

	_, err = svc.DeliveryRecords(ctx, "")
	assert.ErrorIs(t, err, fulfillment.ErrValidation)
}
