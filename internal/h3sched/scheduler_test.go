package h3sched_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sadewadee/h3core/internal/h3sched"
)

func TestNewScheduler(t *testing.T) {
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: 4}, nil)
	if s == nil {
		t.Fatal("expected scheduler to be created")
	}
	stats := s.Stats()
	if stats.TotalCapacity() != 4 {
		t.Fatalf("TotalCapacity = %d, want 4", stats.TotalCapacity())
	}
	if stats.ActiveDrivers() != 0 {
		t.Fatalf("ActiveDrivers = %d, want 0", stats.ActiveDrivers())
	}
}

func TestSchedulerZeroCapacityDefaultsToOne(t *testing.T) {
	s := h3sched.New(h3sched.Config{}, nil)
	if s.Stats().TotalCapacity() != 1 {
		t.Fatalf("TotalCapacity = %d, want 1", s.Stats().TotalCapacity())
	}
}

func TestSchedulerRunExecutesTask(t *testing.T) {
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: 2}, nil)
	ran := false
	err := s.Run(context.Background(), "t1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestSchedulerRunPropagatesTaskError(t *testing.T) {
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: 2}, nil)
	wantErr := errors.New("boom")
	err := s.Run(context.Background(), "t1", func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run err = %v, want %v", err, wantErr)
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const capacity = 2
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: capacity}, nil)

	var mu sync.Mutex
	current, maxSeen := 0, 0
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < capacity*3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-s.Go(context.Background(), "t", func(ctx context.Context) error {
				mu.Lock()
				current++
				if current > maxSeen {
					maxSeen = current
				}
				mu.Unlock()

				<-release

				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
		}(i)
	}

	// Let every submitted task reach the "running" point it can reach
	// given the capacity, then release them all at once.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if maxSeen > capacity {
		t.Fatalf("observed %d concurrent tasks, want <= %d", maxSeen, capacity)
	}
}

func TestSchedulerAcquireRespectsSubmitTimeout(t *testing.T) {
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: 1, SubmitTimeout: 20 * time.Millisecond}, nil)

	block := make(chan struct{})
	done := s.Go(context.Background(), "blocker", func(ctx context.Context) error {
		<-block
		return nil
	})

	err := s.Run(context.Background(), "second", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected timeout error when no capacity is available")
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("blocker task: %v", err)
	}
}

func TestSchedulerStopWaitsForGoTasks(t *testing.T) {
	s := h3sched.New(h3sched.Config{MaxConcurrentDrivers: 2}, nil)
	finished := false
	s.Go(context.Background(), "t", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		finished = true
		return nil
	})
	s.Stop()
	if !finished {
		t.Fatal("Stop returned before the scheduled task finished")
	}
}
