package rsflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediateSchedulerRunsInline(t *testing.T) {
	ran := false
	cancel := NewImmediateScheduler().Schedule(func() { ran = true })
	assert.True(t, ran)
	assert.NotPanics(t, func() { cancel() }) // a no-op cancel must still be safe to call
}

func TestGoroutineSchedulerRunsEventually(t *testing.T) {
	done := make(chan struct{})
	NewGoroutineScheduler().Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestGoroutineSchedulerCancelSkipsUnstartedTask(t *testing.T) {
	ran := make(chan struct{}, 1)
	sched := NewGoroutineScheduler()
	cancel := sched.Schedule(func() { ran <- struct{}{} })
	cancel() // best-effort: usually wins the race since there's no delay injected

	select {
	case <-ran:
		// The task won the race and ran anyway; best-effort cancellation
		// makes no promise against this, so it is not a failure.
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSequentialSchedulerRunsInSubmissionOrder(t *testing.T) {
	sched := NewSequentialScheduler()
	var order []int
	done := make(chan struct{})

	sched.Schedule(func() { order = append(order, 1) })
	sched.Schedule(func() { order = append(order, 2) })
	sched.Schedule(func() { order = append(order, 3); close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sequential scheduler never drained")
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSequentialSchedulerCancelSkipsQueuedTask(t *testing.T) {
	sched := NewSequentialScheduler()
	var ran bool
	done := make(chan struct{})

	// Block the worker on the first task until we've cancelled the second.
	gate := make(chan struct{})
	sched.Schedule(func() { <-gate })
	cancelSecond := sched.Schedule(func() { ran = true })
	sched.Schedule(func() { close(done) })

	cancelSecond()
	close(gate)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sequential scheduler never drained")
	}
	assert.False(t, ran, "a cancelled queued task must never run")
}
