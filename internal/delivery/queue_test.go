package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDelayQueueExecutesDueJobs(t *testing.T) {
	q := NewDelayQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan struct{})
	q.Schedule(time.Now().Add(10*time.Millisecond), func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never executed")
	}
}

func TestDelayQueueOrdering(t *testing.T) {
	q := NewDelayQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	done := make(chan struct{})
	now := time.Now()
	q.Schedule(now.Add(40*time.Millisecond), func(ctx context.Context) {
		order = append(order, "second")
		close(done)
	})
	q.Schedule(now.Add(10*time.Millisecond), func(ctx context.Context) {
		order = append(order, "first")
	})
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs never executed")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
}

func TestDelayQueueSupersedeCancelsStaleEntries(t *testing.T) {
	q := NewDelayQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stale, fresh atomic.Int32
	now := time.Now()
	q.ScheduleKeyed(now.Add(10*time.Millisecond), "user1", 1, func(ctx context.Context) {
		stale.Add(1)
	})
	done := make(chan struct{})
	q.ScheduleKeyed(now.Add(20*time.Millisecond), "user1", 2, func(ctx context.Context) {
		fresh.Add(1)
		close(done)
	})
	q.Supersede("user1", 2)
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fresh entry never executed")
	}
	if stale.Load() != 0 {
		t.Error("stale generation entry should have been discarded")
	}
	if fresh.Load() != 1 {
		t.Error("current generation entry should have executed")
	}
}

func TestDelayQueueSupersedeNeverRegresses(t *testing.T) {
	q := NewDelayQueue(nil)
	q.Supersede("user1", 5)
	q.Supersede("user1", 3)

	q.mu.Lock()
	gen := q.generations["user1"]
	q.mu.Unlock()
	if gen != 5 {
		t.Errorf("generation = %d, want 5", gen)
	}
}

func TestDelayQueueUnkeyedEntriesUnaffectedBySupersede(t *testing.T) {
	q := NewDelayQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Supersede("user1", 10)
	done := make(chan struct{})
	q.Schedule(time.Now().Add(10*time.Millisecond), func(ctx context.Context) {
		close(done)
	})
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unkeyed job should always execute")
	}
}

func TestDelayQueuePending(t *testing.T) {
	q := NewDelayQueue(nil)
	if q.Pending() != 0 {
		t.Errorf("pending = %d, want 0", q.Pending())
	}
	q.Schedule(time.Now().Add(time.Hour), func(ctx context.Context) {})
	q.Schedule(time.Now().Add(2*time.Hour), func(ctx context.Context) {})
	if q.Pending() != 2 {
		t.Errorf("pending = %d, want 2", q.Pending())
	}
}

func TestDelayQueueInjectedClock(t *testing.T) {
	current := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	q := NewDelayQueue(func() time.Time { return current })

	executed := false
	q.Schedule(current.Add(30*time.Minute), func(ctx context.Context) {
		executed = true
	})

	// Not due yet.
	if _, job := q.popDue(); job != nil {
		t.Fatal("job should not be due yet")
	}

	current = current.Add(31 * time.Minute)
	_, job := q.popDue()
	if job == nil {
		t.Fatal("job should be due after the clock advanced")
	}
	job(context.Background())
	if !executed {
		t.Error("job body did not run")
	}
}
