package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
	"github.com/warp/ban-registry/registry/store"
)

func TestAskComposition_FlagsThenEnqueues(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	code, err := f.tracker.AskComposition(ctx, "01001")
	require.NoError(t, err)
	assert.Equal(t, "01001", code)

	c, err := f.tracker.GetCommune(ctx, "01001")
	require.NoError(t, err)
	require.NotNil(t, c, "ask creates the commune record")
	require.NotNil(t, c.CompositionAskedAt)
	assert.Equal(t, fixedNow, *c.CompositionAskedAt)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, registry.CompositionJob{CodeCommune: "01001", CompositionAskedAt: fixedNow}, f.queue.jobs[0])
}

func TestAskComposition_ResolvesToCurrentCommune(t *testing.T) {
	// GIVEN: 01340 is a delegated commune of 01015
	f := newFixture()
	ctx := context.Background()

	// WHEN
	code, err := f.tracker.AskComposition(ctx, "01340")

	// THEN: the chef-lieu is flagged, not the input code
	require.NoError(t, err)
	assert.Equal(t, "01015", code)
	asked, err := f.tracker.GetAskedComposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01015"}, asked)
	assert.Equal(t, []string{"01015"}, f.queue.codes())
}

func TestAskComposition_Unresolvable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.tracker.AskComposition(ctx, "99999")

	var unresolvable *registry.UnresolvableCommuneError
	require.True(t, errors.As(err, &unresolvable))
	assert.Equal(t, "99999", unresolvable.CodeCommune)
	assert.ErrorIs(t, err, registry.ErrUnresolvableCommune)
	assert.True(t, registry.IsClientError(err))

	// No store mutation, no job
	communes, err := f.store.ListCommunes(ctx)
	require.NoError(t, err)
	assert.Empty(t, communes)
	assert.Empty(t, f.queue.jobs)
}

func TestAskComposition_QueueFailureKeepsFlag(t *testing.T) {
	f := newFixture()
	f.queue.fail = true
	ctx := context.Background()

	code, err := f.tracker.AskComposition(ctx, "01001")

	assert.ErrorIs(t, err, errQueueDown)
	assert.Equal(t, "01001", code)
	asked, err := f.tracker.GetAskedComposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01001"}, asked, "flag persisted before enqueue")
}

func TestAskComposition_WhilePendingOverwritesTimestamp(t *testing.T) {
	// GIVEN: a clock advancing one minute per ask and a real queue
	ctx := context.Background()
	mem := store.NewMemory()
	q, err := queue.New("", 0)
	require.NoError(t, err)
	defer q.Close()
	tick := fixedNow
	clock := func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	tracker := registry.NewTracker(mem, testCatalog(), q, registry.WithClock(clock))

	// WHEN: the same commune is asked twice, once through a delegated code
	_, err = tracker.AskComposition(ctx, "01015")
	require.NoError(t, err)
	_, err = tracker.AskComposition(ctx, "01340")
	require.NoError(t, err)

	// THEN: second timestamp kept, one pending commune, one queued job
	second := fixedNow.Add(2 * time.Minute)
	c, err := tracker.GetCommune(ctx, "01015")
	require.NoError(t, err)
	require.NotNil(t, c.CompositionAskedAt)
	assert.Equal(t, second, *c.CompositionAskedAt)

	asked, err := tracker.GetAskedComposition(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01015"}, asked)

	require.Equal(t, 1, q.Len())
	items := q.Items()
	assert.Equal(t, second, items[0].Job.CompositionAskedAt)
}

func TestAskThenFinish_ClearsPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	code, err := f.tracker.AskComposition(ctx, "01001")
	require.NoError(t, err)
	require.NoError(t, f.tracker.FinishComposition(ctx, code))

	c, err := f.tracker.GetCommune(ctx, code)
	require.NoError(t, err)
	assert.Nil(t, c.CompositionAskedAt)
	assert.False(t, c.CompositionPending())

	asked, err := f.tracker.GetAskedComposition(ctx)
	require.NoError(t, err)
	assert.NotContains(t, asked, code)
}

func TestFinishComposition_NoOp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.tracker.FinishComposition(ctx, "01001"))

	c, err := f.tracker.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.Nil(t, c, "finish never creates a commune")
}

func TestUpdateCommune_Merge(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	nb := 7
	pop := 780

	require.NoError(t, f.tracker.UpdateCommune(ctx, "01001", registry.CommunePatch{NbVoies: &nb}))
	require.NoError(t, f.tracker.UpdateCommune(ctx, "01001", registry.CommunePatch{Population: &pop}))

	c, err := f.tracker.GetCommune(ctx, "01001")
	require.NoError(t, err)
	assert.Equal(t, 7, c.NbVoies)
	assert.Equal(t, 780, c.Population)
}

func TestUpdateCommune_RejectsNonCurrentCodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	nb := 7

	cases := []struct {
		name string
		code string
		want error
	}{
		{"delegated commune", "01340", registry.ErrNotCurrentCommune},
		{"unknown commune", "99999", registry.ErrUnresolvableCommune},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.tracker.UpdateCommune(ctx, tc.code, registry.CommunePatch{NbVoies: &nb})

			assert.ErrorIs(t, err, tc.want)
			assert.True(t, registry.IsClientError(err))
		})
	}

	var notCurrent *registry.NotCurrentCommuneError
	require.True(t, errors.As(f.tracker.UpdateCommune(ctx, "01340", registry.CommunePatch{}), &notCurrent))
	assert.Equal(t, "01015", notCurrent.Current)

	// No record written under any of these codes
	communes, err := f.store.ListCommunes(ctx)
	require.NoError(t, err)
	assert.Empty(t, communes)
}

func TestResumeCompositions(t *testing.T) {
	// GIVEN: two communes flagged while the queue was down
	f := newFixture()
	ctx := context.Background()
	f.queue.fail = true
	_, _ = f.tracker.AskComposition(ctx, "01001")
	_, _ = f.tracker.AskComposition(ctx, "01002")
	f.queue.fail = false

	// WHEN
	n, err := f.tracker.ResumeCompositions(ctx)

	// THEN: both jobs re-enqueued with their stored timestamp
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"01001", "01002"}, f.queue.codes())
	for _, j := range f.queue.jobs {
		assert.Equal(t, fixedNow, j.CompositionAskedAt)
	}
}
