/*
scheduler.go - Composition recovery scheduler

PURPOSE:
  AskComposition persists the pending flag before enqueuing. When the
  process dies in between, or the queue rejects the job, the commune
  stays pending with no job. The scheduler periodically re-enqueues
  every pending commune so those requests are not lost.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, which covers restarts
  - The queue dedupes per commune, so re-enqueuing a commune that is
    already queued only refreshes its timestamp

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecoveryScheduler(tracker, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - registry/composition.go: ResumeCompositions
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Resumer re-enqueues pending compositions.
type Resumer interface {
	ResumeCompositions(ctx context.Context) (int, error)
}

// RecoveryScheduler re-enqueues pending compositions on a ticker.
type RecoveryScheduler struct {
	Resumer       Resumer
	CheckInterval time.Duration
	Enabled       bool

	log    logr.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecoveryScheduler creates a new scheduler.
func NewRecoveryScheduler(resumer Resumer, log logr.Logger) *RecoveryScheduler {
	return &RecoveryScheduler{
		Resumer:       resumer,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		log:           log.WithName("recovery"),
	}
}

// Start begins the scheduler.
func (rs *RecoveryScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info("Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.log.Info("Started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RecoveryScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.log.Info("Stopped")
	}
}

func (rs *RecoveryScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow()

	for {
		select {
		case <-tick:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate recovery pass and returns the number of
// communes re-enqueued.
func (rs *RecoveryScheduler) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := rs.Resumer.ResumeCompositions(ctx)
	if err != nil {
		rs.log.Error(err, "Recovery pass failed", "resumed", n)
		return n
	}
	if n > 0 {
		rs.log.Info("Pending compositions re-enqueued", "count", n)
	}
	return n
}
