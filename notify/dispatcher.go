/*
Package notify delivers customer notices off the request path.

FLOW:
  Service -> Dispatcher.Notify* (encode, enqueue, return)
          -> worker goroutine -> Producer.SendMessage (Kafka or log)

A full queue drops the notice with a warning. Notices are advisory: the
delivery record is already persisted when they are produced, and the
customer can always look at the order itself.
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/eggstand/fulfillment"
)

// Notice kinds.
const (
	KindDelivery   = "delivery"
	KindCorrection = "correction"
)

// ErrQueueFull is returned when a notice is dropped.
var ErrQueueFull = errors.New("notification queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("notification dispatcher closed")

// Envelope is the wire format of every notice.
type Envelope struct {
	Type    string          `json:"type"`
	OrderID string          `json:"order_id"`
	UserID  string          `json:"user_id"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// Recorder is told the outcome of each notice. *metrics.Metrics satisfies it.
type Recorder interface {
	NotificationSent(kind, result string)
}

type nopRecorder struct{}

func (nopRecorder) NotificationSent(string, string) {}

type job struct {
	kind  string
	key   []byte
	value []byte
}

// Options sizes a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher implements fulfillment.Notifier over a bounded queue.
type Dispatcher struct {
	producer Producer
	metrics  Recorder
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

var _ fulfillment.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts opts.Workers goroutines. Call Close to drain them.
func NewDispatcher(p Producer, opts Options, rec Recorder, log *zap.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		producer: p,
		metrics:  rec,
		log:      log.Named("notify"),
		timeout:  opts.Timeout,
		now:      time.Now,
		queue:    make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) NotifyDelivery(_ context.Context, n fulfillment.DeliveryNotice) error {
	return d.enqueue(KindDelivery, n.OrderID, n.UserID, n)
}

func (d *Dispatcher) NotifyCorrection(_ context.Context, n fulfillment.CorrectionNotice) error {
	return d.enqueue(KindCorrection, n.OrderID, n.UserID, n)
}

func (d *Dispatcher) enqueue(kind string, orderID fulfillment.OrderID, userID fulfillment.UserID, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s notice: %w", kind, err)
	}
	value, err := json.Marshal(Envelope{
		Type:    kind,
		OrderID: string(orderID),
		UserID:  string(userID),
		SentAt:  d.now().UTC(),
		Payload: body,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- job{kind: kind, key: []byte(orderID), value: value}:
		return nil
	default:
		d.metrics.NotificationSent(kind, "dropped")
		d.log.Warn("notification dropped",
			zap.String("kind", kind),
			zap.String("order_id", string(orderID)),
		)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.producer.SendMessage(ctx, j.key, j.value)
		cancel()

		if err != nil {
			d.metrics.NotificationSent(j.kind, "failed")
			d.log.Error("notification failed",
				zap.String("kind", j.kind),
				zap.ByteString("order_id", j.key),
				zap.Error(err),
			)
			continue
		}
		d.metrics.NotificationSent(j.kind, "ok")
	}
}

// Close stops accepting notices, drains the queue and closes the producer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.producer.Close()
}
