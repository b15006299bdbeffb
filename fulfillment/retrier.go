/*
retrier.go - Background retry of audit entries that failed to write

PURPOSE:
  A delivery correction is persisted before its audit entry. When the
  audit append fails the entry lands here and is retried on a ticker
  until it is written or runs out of attempts.

DESIGN:
  - Runs one background goroutine with a configurable interval
  - Entries keep their ID between attempts; stores ignore a repeated ID
  - Entries that exhaust MaxAttempts are dropped with an error log
  - Stop runs one last pass before returning

USAGE:
  retrier := NewAuditRetrier(audit, logger)
  retrier.Start()
  defer retrier.Stop()
*/
package fulfillment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditRetrier re-appends audit entries in the background.
type AuditRetrier struct {
	Audit       *AuditLogger
	Interval    time.Duration
	MaxAttempts int
	Observer    Observer

	log     *zap.Logger
	mu      sync.Mutex
	pending []pendingAudit
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
}

type pendingAudit struct {
	entry    AuditLogEntry
	attempts int
}

func NewAuditRetrier(audit *AuditLogger, log *zap.Logger) *AuditRetrier {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditRetrier{
		Audit:       audit,
		Interval:    30 * time.Second,
		MaxAttempts: 10,
		Observer:    nopObserver{},
		log:         log.Named("audit-retrier"),
	}
}

// Enqueue schedules entry for another write attempt.
func (r *AuditRetrier) Enqueue(entry AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, pendingAudit{entry: entry})
	r.log.Warn("audit entry queued for retry",
		zap.String("entry_id", entry.ID),
		zap.String("order_id", string(entry.OrderID)))
}

// Pending returns the number of entries waiting.
func (r *AuditRetrier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Start launches the retry loop.
func (r *AuditRetrier) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.ticker, r.stop)
	r.log.Info("started", zap.Duration("interval", r.Interval))
}

// Stop ends the loop and makes one final attempt at whatever is left.
func (r *AuditRetrier) Stop() {
	r.mu.Lock()
	ticker, stop := r.ticker, r.stop
	r.ticker, r.stop = nil, nil
	r.mu.Unlock()
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(stop)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	left := r.RetryNow(ctx)
	r.log.Info("stopped", zap.Int("pending", left))
}

func (r *AuditRetrier) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-ticker.C:
			r.RetryNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RetryNow attempts every pending entry once and returns how many remain.
func (r *AuditRetrier) RetryNow(ctx context.Context) int {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	var keep []pendingAudit
	for _, p := range batch {
		if ctx.Err() != nil {
			keep = append(keep, p)
			continue
		}
		p.attempts++
		if _, err := r.Audit.Append(ctx, p.entry); err != nil {
			r.Observer.AuditRetried(false)
			if p.attempts >= r.MaxAttempts {
				r.log.Error("giving up on audit entry",
					zap.String("entry_id", p.entry.ID),
					zap.String("order_id", string(p.entry.OrderID)),
					zap.Int("attempts", p.attempts),
					zap.Error(err))
				continue
			}
			keep = append(keep, p)
			continue
		}
		r.Observer.AuditRetried(true)
		r.log.Info("audit entry written on retry",
			zap.String("entry_id", p.entry.ID),
			zap.Int("attempts", p.attempts))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(keep, r.pending...)
	return len(r.pending)
}
