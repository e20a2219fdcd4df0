// Package delivery provides the delayed work queue used by the delivery
// coordinator for retries and effectiveness callbacks.
//
// The queue is a time-ordered heap drained by a single worker goroutine.
// Keyed entries carry a generation token; bumping a key's generation
// makes any queued entry with an older token a silent no-op at pop time.
package delivery

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is the work executed when a queue entry comes due.
type Job func(ctx context.Context)

// item is one scheduled queue entry.
type item struct {
	runAt      time.Time
	key        string
	generation uint64
	job        Job
	seq        uint64 // insertion order, stabilizes equal runAt values
}

// itemHeap orders items by runAt, then insertion order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if !h[i].runAt.Equal(h[j].runAt) {
		return h[i].runAt.Before(h[j].runAt)
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// DelayQueue schedules jobs for future execution with optional
// generation-based cancellation.
type DelayQueue struct {
	mu          sync.Mutex
	heap        itemHeap
	generations map[string]uint64
	nextSeq     uint64
	wake        chan struct{}
	now         func() time.Time
}

// NewDelayQueue creates a stopped queue; call Run to start the worker.
// The now function is injectable for deterministic tests.
func NewDelayQueue(now func() time.Time) *DelayQueue {
	if now == nil {
		now = time.Now
	}
	return &DelayQueue{
		generations: make(map[string]uint64),
		wake:        make(chan struct{}, 1),
		now:         now,
	}
}

// Schedule enqueues an unkeyed job that always executes when due.
func (q *DelayQueue) Schedule(runAt time.Time, job Job) {
	q.push(&item{runAt: runAt, job: job})
}

// ScheduleKeyed enqueues a job bound to key and generation. The job is
// discarded unexecuted if the key's generation has moved past generation
// by the time the entry pops.
func (q *DelayQueue) ScheduleKeyed(runAt time.Time, key string, generation uint64, job Job) {
	q.push(&item{runAt: runAt, key: key, generation: generation, job: job})
}

// Supersede advances the key's generation, silently cancelling all queued
// entries with an older token.
func (q *DelayQueue) Supersede(key string, generation uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if generation > q.generations[key] {
		q.generations[key] = generation
		slog.Debug("DelayQueue superseded key", "key", key, "generation", generation)
	}
}

// Pending returns the number of queued entries, including ones that will
// be discarded as stale.
func (q *DelayQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *DelayQueue) push(it *item) {
	q.mu.Lock()
	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, it)
	q.mu.Unlock()
	slog.Debug("DelayQueue scheduled entry", "run_at", it.runAt, "key", it.key, "generation", it.generation)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Due entries execute on the
// worker goroutine; jobs that block should spawn their own goroutines.
func (q *DelayQueue) Run(ctx context.Context) {
	slog.Info("DelayQueue worker starting")
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, job := q.popDue()
		if job != nil {
			job(ctx)
			continue
		}

		wait := time.Hour
		if !next.IsZero() {
			wait = next.Sub(q.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			slog.Info("DelayQueue worker stopping")
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// popDue removes and returns the next due job, skipping stale keyed
// entries. When nothing is due it returns the next run time (zero when
// the queue is empty) and a nil job.
func (q *DelayQueue) popDue() (time.Time, Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for len(q.heap) > 0 {
		head := q.heap[0]
		if head.runAt.After(now) {
			return head.runAt, nil
		}
		heap.Pop(&q.heap)
		if head.key != "" && head.generation < q.generations[head.key] {
			// Stale generation: a newer intervention superseded this entry.
			slog.Debug("DelayQueue dropping stale entry", "key", head.key,
				"generation", head.generation, "current", q.generations[head.key])
			continue
		}
		return time.Time{}, head.job
	}
	return time.Time{}, nil
}
