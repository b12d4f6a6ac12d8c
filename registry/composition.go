/*
composition.go - Per-commune composition request state machine

PURPOSE:
  Tracks which communes need their address data recomputed by the
  external composition pipeline, and hands jobs to the work queue.

STATES:
  idle     compositionAskedAt absent
  pending  compositionAskedAt present

  idle    --AskComposition-->    pending  (job enqueued)
  pending --AskComposition-->    pending  (timestamp overwritten, queue dedupes)
  pending --FinishComposition--> idle
  idle    --FinishComposition--> idle     (no-op)

ORDERING:
  AskComposition persists the flag BEFORE enqueuing. A crash or queue
  failure in between leaves the commune pending with no job; the
  recovery scan (ResumeCompositions, driven by api.RecoveryScheduler)
  picks it up again from GetAskedComposition.

CODES:
  AskComposition resolves the input to the current commune code.
  UpdateCommune only accepts current commune codes. FinishComposition
  takes the code as-is: the pipeline only ever sees canonical codes.

SEE ALSO:
  - certification.go: calls AskComposition for every flipped commune
  - commune_data.go: the pipeline's write path
  - queue/queue.go: the Enqueuer implementation
*/
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/warp/ban-registry/cog"
	"github.com/warp/ban-registry/metrics"
)

// =============================================================================
// TRACKER
// =============================================================================

// Tracker owns the composition workflow fields of the commune store and
// the bulk replacement of a commune's address data.
type Tracker struct {
	store    Store
	resolver cog.Resolver
	queue    Enqueuer
	log      logr.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(log logr.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker.
func NewTracker(store Store, resolver cog.Resolver, queue Enqueuer, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		resolver: resolver,
		queue:    queue,
		log:      logr.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Resolve returns the code of the current commune descending from
// codeCommune.
func (t *Tracker) Resolve(codeCommune string) (string, error) {
	current, ok := t.resolver.CurrentCommune(codeCommune)
	if !ok {
		return "", &UnresolvableCommuneError{CodeCommune: codeCommune}
	}
	return current.Code, nil
}

// AskComposition flags the current commune descending from codeCommune
// as pending and enqueues a composition job. It returns the canonical
// code that was flagged.
func (t *Tracker) AskComposition(ctx context.Context, codeCommune string) (string, error) {
	code, err := t.Resolve(codeCommune)
	if err != nil {
		return "", err
	}
	askedAt := t.now()

	if err := t.store.SetCompositionAskedAt(ctx, code, askedAt); err != nil {
		return "", fmt.Errorf("failed to flag composition for %s: %w", code, err)
	}
	metrics.RecordCompositionAsked()

	job := CompositionJob{CodeCommune: code, CompositionAskedAt: askedAt}
	if err := t.queue.Enqueue(ctx, job); err != nil {
		metrics.RecordEnqueueFailure()
		t.log.Error(err, "Composition flagged but not enqueued, left for recovery scan", "codeCommune", code)
		return code, fmt.Errorf("failed to enqueue composition for %s: %w", code, err)
	}

	t.log.V(1).Info("Composition asked", "codeCommune", code, "input", codeCommune, "askedAt", askedAt)
	return code, nil
}

// FinishComposition clears the pending flag of codeCommune.
func (t *Tracker) FinishComposition(ctx context.Context, codeCommune string) error {
	if err := t.store.UnsetCompositionAskedAt(ctx, codeCommune); err != nil {
		return fmt.Errorf("failed to finish composition for %s: %w", codeCommune, err)
	}
	metrics.RecordCompositionFinished()
	t.log.V(1).Info("Composition finished", "codeCommune", codeCommune)
	return nil
}

// GetAskedComposition returns the codes of every pending commune.
func (t *Tracker) GetAskedComposition(ctx context.Context) ([]string, error) {
	return t.store.ListCompositionAsked(ctx)
}

// GetCommune returns the raw commune record, or nil when absent.
func (t *Tracker) GetCommune(ctx context.Context, codeCommune string) (*Commune, error) {
	return t.store.GetCommune(ctx, codeCommune)
}

// UpdateCommune merges summary fields into the commune record. The
// record is created if needed, so codeCommune must be a current code.
func (t *Tracker) UpdateCommune(ctx context.Context, codeCommune string, patch CommunePatch) error {
	current, err := t.Resolve(codeCommune)
	if err != nil {
		return err
	}
	if current != codeCommune {
		return &NotCurrentCommuneError{CodeCommune: codeCommune, Current: current}
	}
	return t.store.UpdateCommune(ctx, codeCommune, patch)
}

// ResumeCompositions re-enqueues a job for every pending commune, with
// the timestamp already stored. The queue dedupes communes that still
// have a job. It returns how many jobs were handed to the queue.
func (t *Tracker) ResumeCompositions(ctx context.Context) (int, error) {
	codes, err := t.store.ListCompositionAsked(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, code := range codes {
		c, err := t.store.GetCommune(ctx, code)
		if err != nil {
			return enqueued, err
		}
		// Finished between the scan and the fetch.
		if !c.CompositionPending() {
			continue
		}
		job := CompositionJob{CodeCommune: code, CompositionAskedAt: *c.CompositionAskedAt}
		if err := t.queue.Enqueue(ctx, job); err != nil {
			metrics.RecordEnqueueFailure()
			return enqueued, fmt.Errorf("failed to re-enqueue composition for %s: %w", code, err)
		}
		enqueued++
	}
	return enqueued, nil
}
