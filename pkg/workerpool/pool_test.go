package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolProcessesTasks(t *testing.T) {
	var processed int64

	cfg := Config{Workers: 4, QueueSize: 16}
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&processed, 1)
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	pool.Start()
	defer pool.Stop()

	for i := 0; i < 10; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return atomic.LoadInt64(&processed) == 10 })

	stats := pool.Stats()
	if stats.TasksSubmitted != 10 || stats.TasksCompleted != 10 || stats.TasksFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPoolRetriesFailedTasks(t *testing.T) {
	var attempts int64

	cfg := Config{Workers: 1, QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond}
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		n := atomic.AddInt64(&attempts, 1)
		if n < 3 {
			return &Result{TaskID: task.ID, Success: false, Error: errors.New("transient")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "flaky"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return pool.Stats().TasksCompleted == 1 })

	stats := pool.Stats()
	if stats.TasksRetried != 2 {
		t.Errorf("retried = %d, want 2", stats.TasksRetried)
	}
	if stats.TasksFailed != 0 {
		t.Errorf("failed = %d, want 0", stats.TasksFailed)
	}
}

func TestPoolExhaustsRetries(t *testing.T) {
	cfg := Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond}
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: false, Error: errors.New("permanent")}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return pool.Stats().TasksFailed == 1 })

	if stats := pool.Stats(); stats.TasksRetried != 2 {
		t.Errorf("retried = %d, want 2", stats.TasksRetried)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("submit after stop should fail")
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Error("expected error for nil worker func")
	}
}
