/*
certification.go - Force-certification set reconciliation

PURPOSE:
  The set of communes whose addresses are force-certified is decided
  outside this service. UpdateForceCertification receives the complete
  desired set, diffs it against the flagged set, flips the difference
  and asks a recomposition of every flipped commune.

ALGORITHM:
  D        = desired codes resolved to their current commune
  C        = communes with forceCertification = true
  toRemove = C - D
  toAdd    = D - C
  1. one bulk update clearing the flag on toRemove
  2. one bulk update setting the flag on toAdd
  3. AskComposition for every code of toRemove ∪ toAdd, concurrently

FAILURES:
  A desired code with no current commune is reported in
  ForceCertificationResult.Failures under the code as given and never
  flagged. Step 3 has no rollback. Each code fails independently and
  is reported in Failures under its canonical code.

IDEMPOTENCE:
  A second call with the same desired set computes empty diffs and
  triggers nothing.
*/
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/warp/ban-registry/metrics"
)

// DefaultReconcileWorkers bounds concurrent AskComposition calls.
const DefaultReconcileWorkers = 8

// Asker is the part of Tracker the reconciler uses.
type Asker interface {
	Resolve(codeCommune string) (string, error)
	AskComposition(ctx context.Context, codeCommune string) (string, error)
}

// ForceCertificationResult is returned for observability.
type ForceCertificationResult struct {
	ToAdd    []string         `json:"toAdd"`
	ToRemove []string         `json:"toRemove"`
	Failures map[string]error `json:"-"`
}

// Reconciler is the only writer of the forceCertification flag.
type Reconciler struct {
	communes CommuneStore
	asker    Asker
	workers  int
	log      logr.Logger
}

// NewReconciler creates a reconciler. workers <= 0 uses DefaultReconcileWorkers.
func NewReconciler(communes CommuneStore, asker Asker, workers int, log logr.Logger) *Reconciler {
	if workers <= 0 {
		workers = DefaultReconcileWorkers
	}
	return &Reconciler{communes: communes, asker: asker, workers: workers, log: log}
}

// ForceCertified returns the currently flagged codes, sorted.
func (r *Reconciler) ForceCertified(ctx context.Context) ([]string, error) {
	codes, err := r.communes.ListForceCertified(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(codes)
	return codes, nil
}

// UpdateForceCertification makes the flagged set equal to desired.
// The returned error covers the store updates only; per-commune
// recomposition failures are in the result.
func (r *Reconciler) UpdateForceCertification(ctx context.Context, desired []string) (*ForceCertificationResult, error) {
	current, err := r.communes.ListForceCertified(ctx)
	if err != nil {
		return nil, err
	}

	failures := map[string]error{}
	resolved := make([]string, 0, len(desired))
	for _, code := range desired {
		canonical, err := r.asker.Resolve(code)
		if err != nil {
			failures[code] = err
			continue
		}
		resolved = append(resolved, canonical)
	}

	toAdd, toRemove := diffSets(resolved, current)
	result := &ForceCertificationResult{
		ToAdd:    toAdd,
		ToRemove: toRemove,
		Failures: failures,
	}

	if len(toRemove) > 0 {
		if err := r.communes.SetForceCertification(ctx, toRemove, false); err != nil {
			return nil, fmt.Errorf("failed to clear force certification: %w", err)
		}
		metrics.RecordForceCertificationChanges("remove", len(toRemove))
	}
	if len(toAdd) > 0 {
		if err := r.communes.SetForceCertification(ctx, toAdd, true); err != nil {
			return nil, fmt.Errorf("failed to set force certification: %w", err)
		}
		metrics.RecordForceCertificationChanges("add", len(toAdd))
	}

	changed := make([]string, 0, len(toAdd)+len(toRemove))
	changed = append(changed, toRemove...)
	changed = append(changed, toAdd...)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers)
	for _, code := range changed {
		g.Go(func() error {
			if _, err := r.asker.AskComposition(ctx, code); err != nil {
				mu.Lock()
				result.Failures[code] = err
				mu.Unlock()
				r.log.Error(err, "Recomposition after force certification change failed", "codeCommune", code)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info("Force certification reconciled",
		"added", len(toAdd), "removed", len(toRemove), "failures", len(result.Failures))
	return result, nil
}

// diffSets returns desired-current and current-desired, sorted and deduped.
func diffSets(desired, current []string) (toAdd, toRemove []string) {
	want := make(map[string]bool, len(desired))
	for _, c := range desired {
		want[c] = true
	}
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c] = true
	}

	toAdd = []string{}
	for c := range want {
		if !have[c] {
			toAdd = append(toAdd, c)
		}
	}
	toRemove = []string{}
	for c := range have {
		if !want[c] {
			toRemove = append(toRemove, c)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}
