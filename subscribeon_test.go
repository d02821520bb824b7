package rsflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingScheduler hands back control of exactly when a scheduled task runs,
// so eager-cancel races against "before the task has run" are deterministic.
type blockingScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (b *blockingScheduler) Schedule(task func()) CancelFunc {
	b.mu.Lock()
	idx := len(b.tasks)
	b.tasks = append(b.tasks, task)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.tasks[idx] = nil
		b.mu.Unlock()
	}
}

func (b *blockingScheduler) runAll() {
	b.mu.Lock()
	pending := b.tasks
	b.tasks = nil
	b.mu.Unlock()
	for _, t := range pending {
		if t != nil {
			t()
		}
	}
}

func TestSubscribeOnNonEagerRunsSubscribeOnScheduler(t *testing.T) {
	sched := NewImmediateScheduler()
	src := &controlledSource{sub: &manualSubscription{}}
	wrapped := SubscribeOn(src, sched, false, false)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)

	assert.NotNil(t, sink.subscription(), "ImmediateScheduler runs inline, so OnSubscribe has already happened")
}

func TestSubscribeOnRequestOnReschedulesEachRequest(t *testing.T) {
	sched := &blockingScheduler{}
	sub := &manualSubscription{}
	src := &controlledSource{sub: sub}
	wrapped := SubscribeOn(src, sched, false, true)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)
	sched.runAll() // runs the scheduled Subscribe

	require.NotNil(t, sink.subscription())
	sink.request(5)
	assert.Empty(t, sub.requested, "the Request itself is scheduled, not run inline")

	sched.runAll()
	assert.Equal(t, []int64{5}, sub.requested)
}

func TestSubscribeOnEagerDirectCancelBeforeScheduledSubscribeRuns(t *testing.T) {
	sched := &blockingScheduler{}
	sub := &manualSubscription{}
	src := &controlledSource{sub: sub}
	wrapped := SubscribeOn(src, sched, true, false)

	subscribedDownstream := false
	wrapped.Subscribe(sinkFunc{
		onSubscribe: func(s Subscription) {
			subscribedDownstream = true
			s.Cancel() // cancel before the scheduled subscribe has run at all
		},
	})

	require.True(t, subscribedDownstream, "eager mode hands the downstream a subscription immediately")
	sched.runAll()
	assert.False(t, sub.cancelled, "the scheduled subscribe never ran, so the real upstream never existed to cancel")
	assert.Empty(t, sub.requested, "source.Subscribe must never be reached once cancelled this early")
}

func TestSubscribeOnEagerDirectRunsNormallyWithoutCancel(t *testing.T) {
	sched := &blockingScheduler{}
	sub := &manualSubscription{}
	src := &controlledSource{sub: sub}
	wrapped := SubscribeOn(src, sched, true, false)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)
	require.NotNil(t, sink.subscription())

	sink.request(3)
	sched.runAll()
	assert.Equal(t, []int64{3}, sub.requested, "pending demand buffered before Set flushes once the real upstream arrives")
}

func TestSubscribeOnEagerClassicCancelStopsPendingRequestTasks(t *testing.T) {
	sched := &blockingScheduler{}
	sub := &manualSubscription{}
	src := &controlledSource{sub: sub}
	wrapped := SubscribeOn(src, sched, true, true)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)
	sched.runAll() // run the scheduled subscribe itself

	sink.request(1)
	sink.request(2)
	sink.subscription().Cancel()
	sched.runAll() // these request tasks should have been pre-emptively cancelled

	assert.Empty(t, sub.requested, "every pending scheduled request was cancelled before it ran")
	assert.True(t, sub.cancelled)
}

func TestSubscribeOnEagerClassicDeliversRequestsWhenNotCancelled(t *testing.T) {
	sched := &blockingScheduler{}
	sub := &manualSubscription{}
	src := &controlledSource{sub: sub}
	wrapped := SubscribeOn(src, sched, true, true)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)
	sched.runAll()

	sink.request(1)
	sink.request(2)
	sched.runAll()

	assert.Equal(t, []int64{1, 2}, sub.requested)
}

func TestSubscribeOnGoroutineSchedulerEventuallyRuns(t *testing.T) {
	sched := NewGoroutineScheduler()
	src := &controlledSource{sub: &manualSubscription{}}
	wrapped := SubscribeOn(src, sched, false, false)

	sink := &recordingSink{}
	wrapped.Subscribe(sink)

	require.Eventually(t, func() bool {
		return sink.subscription() != nil
	}, time.Second, time.Millisecond)
}

// sinkFunc adapts individual callback functions to the Sink interface for
// tests that only care about one signal.
type sinkFunc struct {
	onSubscribe func(Subscription)
	onNext      func(interface{})
	onError     func(error)
	onComplete  func()
}

func (s sinkFunc) OnSubscribe(sub Subscription) {
	if s.onSubscribe != nil {
		s.onSubscribe(sub)
	}
}
func (s sinkFunc) OnNext(item interface{}) {
	if s.onNext != nil {
		s.onNext(item)
	}
}
func (s sinkFunc) OnError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
func (s sinkFunc) OnComplete() {
	if s.onComplete != nil {
		s.onComplete()
	}
}
