/*
ledger.go - Order lookup and serialized read-modify-write

PURPOSE:
  The OrderLedger is the only path through which an order's delivery log
  or status changes. Recorder, Corrector and the payment passthrough all
  go through Update.

CRITICAL INVARIANTS:
  1. ONE WRITER PER ORDER: Update holds the order's lock for the whole
     load-mutate-save cycle.
  2. STATUS IS DERIVED: after every mutation Status is recomputed from
     OrderedQuantity and the delivery log. Mutators never set it.
  3. ALL OR NOTHING: the mutator works on a clone. If it returns an error
     nothing is saved.

LOCKING + VERSIONS:
  The Locker covers a single process (KeyedMutex) or several
  (lock/redislock). The store's version check is the second line: if
  another writer slipped in anyway, SaveOrder returns ErrConflict and
  Update reloads and re-applies the mutator, up to MaxAttempts times.

EXAMPLE:
  order, err := ledger.Update(ctx, id, func(o *Order) error {
      o.Deliveries.Append(event)
      return nil
  })
*/
package fulfillment

import (
	"context"
	"errors"
	"time"
)

const defaultMaxAttempts = 3

// Mutator changes a working copy of an order.
type Mutator func(o *Order) error

type OrderLedger struct {
	Store       OrderStore
	Locker      Locker
	MaxAttempts int
	Now         func() time.Time
}

func NewOrderLedger(store OrderStore, locker Locker) *OrderLedger {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &OrderLedger{
		Store:       store,
		Locker:      locker,
		MaxAttempts: defaultMaxAttempts,
		Now:         time.Now,
	}
}

// Get loads an order without locking.
func (l *OrderLedger) Get(ctx context.Context, id OrderID) (*Order, error) {
	if id == "" {
		return nil, invalid("orderId", "is required")
	}
	order, err := l.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, wrapStorage("get order", err)
	}
	return order, nil
}

// Update applies mutate under the order's lock and persists the result.
func (l *OrderLedger) Update(ctx context.Context, id OrderID, mutate Mutator) (*Order, error) {
	return l.UpdateThen(ctx, id, mutate, nil)
}

// UpdateThen is Update plus a follow-up that runs after a successful save,
// before the order's lock is released. Follow-ups on one order therefore
// run in the same order as the saves they follow.
func (l *OrderLedger) UpdateThen(ctx context.Context, id OrderID, mutate Mutator, then func(saved *Order)) (*Order, error) {
	if id == "" {
		return nil, invalid("orderId", "is required")
	}

	unlock, err := l.Locker.Lock(ctx, string(id))
	if err != nil {
		return nil, &StorageError{Op: "lock order", Err: err}
	}
	defer unlock()

	attempts := l.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		current, err := l.Store.GetOrder(ctx, id)
		if err != nil {
			return nil, wrapStorage("get order", err)
		}

		working := current.Clone()
		if err := mutate(working); err != nil {
			return nil, err
		}
		working.Status = DeriveStatus(working.OrderedQuantity, working.Deliveries)
		working.UpdatedAt = l.Now().UTC()

		err = l.Store.SaveOrder(ctx, working)
		if err == nil {
			if then != nil {
				then(working)
			}
			return working, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, wrapStorage("save order", err)
		}
	}
	return nil, &ConflictError{OrderID: id, Attempts: attempts}
}
