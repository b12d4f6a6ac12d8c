package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
	"github.com/warp/ban-registry/registry/store"
)

type countingResumer struct {
	calls atomic.Int32
	err   error
}

func (c *countingResumer) ResumeCompositions(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestRecoveryScheduler_RunsOnStartAndTicks(t *testing.T) {
	resumer := &countingResumer{}
	rs := NewRecoveryScheduler(resumer, logr.Discard())
	rs.CheckInterval = 10 * time.Millisecond

	rs.Start()
	require.Eventually(t, func() bool { return resumer.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	rs.Stop()

	after := resumer.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, resumer.calls.Load(), "no run after Stop")
}

func TestRecoveryScheduler_Disabled(t *testing.T) {
	resumer := &countingResumer{}
	rs := NewRecoveryScheduler(resumer, logr.Discard())
	rs.Enabled = false

	rs.Start()
	rs.Stop()

	assert.Zero(t, resumer.calls.Load())
}

func TestRecoveryScheduler_RunNowReportsFailure(t *testing.T) {
	resumer := &countingResumer{err: errors.New("store down")}
	rs := NewRecoveryScheduler(resumer, logr.Discard())

	assert.Equal(t, 1, rs.RunNow())
}

func TestRecoveryScheduler_RequeuesLostJobs(t *testing.T) {
	// GIVEN: a commune flagged while the queue was closed
	mem := store.NewMemory()
	closed, err := queue.New("", 0)
	require.NoError(t, err)
	closed.Close()
	catalog := newTestCatalog()
	_, err = registry.NewTracker(mem, catalog, closed).AskComposition(context.Background(), "01001")
	require.ErrorIs(t, err, queue.ErrQueueClosed)

	// WHEN: a fresh queue and a recovery pass
	q, err := queue.New("", 0)
	require.NoError(t, err)
	rs := NewRecoveryScheduler(registry.NewTracker(mem, catalog, q), logr.Discard())

	// THEN
	assert.Equal(t, 1, rs.RunNow())
	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "01001", items[0].Job.CodeCommune)
}
