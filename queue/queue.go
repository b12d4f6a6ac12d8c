/*
Package queue is the composition work queue.

PURPOSE:
  Carries CompositionJob messages from the tracker to the external
  composition pipeline, which pulls them (see api POST
  /api/compositions/next). The tracker only sees registry.Enqueuer.

SEMANTICS:
  - FIFO.
  - Deduped per commune: enqueuing a commune that already has a job
    refreshes the job's timestamp in place; no second job is created.
  - Bounded: Enqueue fails fast with ErrQueueFull instead of blocking.
    The commune stays flagged and the recovery scan re-enqueues it.
  - Optionally persisted: with a path, the queue state is rewritten
    atomically after every change and reloaded by New.
*/
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/warp/ban-registry/registry"
)

var (
	ErrQueueFull   = errors.New("composition queue is full")
	ErrQueueClosed = errors.New("composition queue is closed")
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100_000

// Item is a queued job.
type Item struct {
	ID         string                  `json:"id"`
	Job        registry.CompositionJob `json:"job"`
	EnqueuedAt time.Time               `json:"enqueuedAt"`
}

type queueState struct {
	Items []Item `json:"items"`
}

// Queue implements registry.Enqueuer.
type Queue struct {
	path         string
	capacity     int
	pollInterval time.Duration

	mu     sync.Mutex
	items  []Item
	closed bool
}

var _ registry.Enqueuer = (*Queue)(nil)

// New creates a queue. An empty path keeps the queue in memory only.
func New(path string, capacity int) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		path:         strings.TrimSpace(path),
		capacity:     capacity,
		pollInterval: 50 * time.Millisecond,
		items:        []Item{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue adds a job, or refreshes the job already queued for the commune.
func (q *Queue) Enqueue(_ context.Context, job registry.CompositionJob) error {
	if strings.TrimSpace(job.CodeCommune) == "" {
		return fmt.Errorf("composition job without commune code")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := range q.items {
		if q.items[i].Job.CodeCommune == job.CodeCommune {
			prev := q.items[i].Job
			q.items[i].Job = job
			if err := q.saveLocked(); err != nil {
				q.items[i].Job = prev
				return err
			}
			return nil
		}
	}

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, Item{
		ID:         uuid.NewString(),
		Job:        job,
		EnqueuedAt: time.Now().UTC(),
	})
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return err
	}
	return nil
}

// TryDequeue pops the oldest job without waiting.
func (q *Queue) TryDequeue() (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	if err := q.saveLocked(); err != nil {
		q.items = append([]Item{item}, q.items...)
		return Item{}, false, err
	}
	return item, true, nil
}

// Dequeue waits for a job until ctx is done or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		item, ok, err := q.TryDequeue()
		if err != nil {
			return Item{}, err
		}
		if ok {
			return item, nil
		}
		if q.isClosed() {
			return Item{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queued jobs, oldest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

// Close stops accepting jobs. Queued jobs can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) load() error {
	if q.path == "" {
		return nil
	}
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue state: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse queue state %s: %w", q.path, err)
	}
	if state.Items != nil {
		q.items = state.Items
	}
	return nil
}

func (q *Queue) saveLocked() error {
	if q.path == "" {
		return nil
	}
	data, err := json.Marshal(queueState{Items: q.items})
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(q.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to persist queue state: %w", err)
	}
	return nil
}
