package rsflow

import "sync"

// SubscribeOn returns a Source that moves source's Subscribe call onto
// scheduler. If requestOn is true, every downstream Request(n) is also
// individually rescheduled onto scheduler rather than running on the calling
// goroutine. If eagerCancel is true, the downstream is handed a subscription
// immediately (before the scheduled Subscribe has run) so it can cancel the
// scheduled work before it ever starts; otherwise the downstream only learns
// of a Subscription once the scheduled Subscribe has actually executed.
//
// 调度边界操作符：将订阅（以及可选地，每一次request）转移到调度器上执行，
// eagerCancel控制下游能否在调度任务运行之前就发出取消。
func SubscribeOn(source Source, scheduler Scheduler, eagerCancel bool, requestOn bool) Source {
	return &subscribeOnSource{source: source, scheduler: scheduler, eagerCancel: eagerCancel, requestOn: requestOn}
}

type subscribeOnSource struct {
	source      Source
	scheduler   Scheduler
	eagerCancel bool
	requestOn   bool
}

func (s *subscribeOnSource) Subscribe(sink Sink) {
	switch {
	case !s.eagerCancel && !s.requestOn:
		s.scheduler.Schedule(func() { s.source.Subscribe(sink) })
	case !s.eagerCancel && s.requestOn:
		wrapped := &requestOnSink{actual: sink, scheduler: s.scheduler}
		s.scheduler.Schedule(func() { s.source.Subscribe(wrapped) })
	case s.eagerCancel && !s.requestOn:
		s.subscribeEagerDirect(sink)
	default:
		s.subscribeEagerClassic(sink)
	}
}

// ---------------------------------------------------------------------------
// requestOn, non-eager: the subscription itself is ordinary, but each
// Request(n) the downstream issues is rescheduled rather than run inline.
// ---------------------------------------------------------------------------

type requestOnSink struct {
	actual    Sink
	scheduler Scheduler
}

func (r *requestOnSink) OnSubscribe(sub Subscription) {
	r.actual.OnSubscribe(&requestOnSubscription{upstream: sub, scheduler: r.scheduler})
}
func (r *requestOnSink) OnNext(item interface{}) { r.actual.OnNext(item) }
func (r *requestOnSink) OnError(err error)       { r.actual.OnError(err) }
func (r *requestOnSink) OnComplete()             { r.actual.OnComplete() }

type requestOnSubscription struct {
	upstream  Subscription
	scheduler Scheduler
}

func (r *requestOnSubscription) Request(n int64) {
	r.scheduler.Schedule(func() { r.upstream.Request(n) })
}

func (r *requestOnSubscription) Cancel() { r.upstream.Cancel() }

// ---------------------------------------------------------------------------
// scheduledTask: the three-state (pending / finished / cancelled) bookkeeping
// shared by both eager modes below. A mutex guards it rather than a CAS loop,
// mirroring the teacher's mutex-guarded task bookkeeping (see DESIGN.md).
// ---------------------------------------------------------------------------

type scheduledTask struct {
	mu        sync.Mutex
	cancel    CancelFunc
	done      bool // finished or cancelled
	cancelled bool // done was reached via cancelTask
}

// setCancel installs the scheduler's own cancel handle. If the task was
// already cancelled before the handle arrived, it is invoked immediately —
// this is what guarantees at-most-one invocation regardless of which side
// wins the race. A task that already finished leaves the handle uncalled.
func (t *scheduledTask) setCancel(c CancelFunc) {
	t.mu.Lock()
	if t.done {
		cancelled := t.cancelled
		t.mu.Unlock()
		if cancelled {
			c()
		}
		return
	}
	t.cancel = c
	t.mu.Unlock()
}

// finish marks the task run and reports whether it actually won that race;
// false means a concurrent cancelTask got there first and the task body must
// not proceed.
func (t *scheduledTask) finish() bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	t.mu.Unlock()
	return true
}

func (t *scheduledTask) cancelTask() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.cancelled = true
	c := t.cancel
	t.mu.Unlock()
	if c != nil {
		c()
	}
}

// eagerSubscribeSink is handed to source.Subscribe once the scheduled
// subscribe task actually runs, in both eager modes: its OnSubscribe installs
// the real upstream into the deferred subscription the downstream was handed
// immediately, rather than delivering a second OnSubscribe to actual.
type eagerSubscribeSink struct {
	actual   Sink
	deferred *DeferredSubscription
}

func (e eagerSubscribeSink) OnSubscribe(sub Subscription) { e.deferred.Set(sub) }
func (e eagerSubscribeSink) OnNext(item interface{})      { e.actual.OnNext(item) }
func (e eagerSubscribeSink) OnError(err error)            { e.actual.OnError(err) }
func (e eagerSubscribeSink) OnComplete()                  { e.actual.OnComplete() }

// ---------------------------------------------------------------------------
// eagerCancel, !requestOn: a single scheduled task (the subscribe itself),
// cancellable before it has run via the deferred subscription.
// ---------------------------------------------------------------------------

func (s *subscribeOnSource) subscribeEagerDirect(sink Sink) {
	deferred := &DeferredSubscription{}
	task := &scheduledTask{}

	sink.OnSubscribe(&eagerTaskSubscription{deferred: deferred, task: task})

	cancel := s.scheduler.Schedule(func() {
		if !task.finish() {
			return
		}
		if deferred.IsCancelled() {
			return
		}
		s.source.Subscribe(eagerSubscribeSink{actual: sink, deferred: deferred})
	})
	task.setCancel(cancel)
}

// eagerTaskSubscription is the Subscription handed downstream before the
// scheduled subscribe has run. Request buffers into the deferred
// subscription as usual; Cancel must stop both the not-yet-run scheduled
// task and (if it already ran) the real upstream.
type eagerTaskSubscription struct {
	deferred *DeferredSubscription
	task     *scheduledTask
}

func (e *eagerTaskSubscription) Request(n int64) { e.deferred.Request(n) }

func (e *eagerTaskSubscription) Cancel() {
	e.task.cancelTask()
	e.deferred.Cancel()
}

// ---------------------------------------------------------------------------
// eagerCancel && requestOn (classic): the subscribe itself plus every
// individual Request(n) is its own cancellable scheduled task, tracked in a
// shared collection so a single Cancel reaches all of them.
// ---------------------------------------------------------------------------

// subscribeOnClassic tracks every in-flight scheduled task (the subscribe
// task and one per outstanding Request) for a single subscription, so that
// Cancel can reach all of them under one ownership transfer. Guarded by a
// mutex rather than a lock-free structure, matching the teacher's own
// bookkeeping style for this kind of small, short-lived collection.
type subscribeOnClassic struct {
	mu         sync.Mutex
	tasks      map[*scheduledTask]struct{}
	terminated bool
}

func newSubscribeOnClassic() *subscribeOnClassic {
	return &subscribeOnClassic{tasks: make(map[*scheduledTask]struct{})}
}

// add registers t, returning false (and leaving t untracked) if Cancel has
// already swept the collection — the caller must not schedule t in that case.
func (c *subscribeOnClassic) add(t *scheduledTask) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return false
	}
	c.tasks[t] = struct{}{}
	return true
}

func (c *subscribeOnClassic) remove(t *scheduledTask) {
	c.mu.Lock()
	if !c.terminated {
		delete(c.tasks, t)
	}
	c.mu.Unlock()
}

// cancelAll transfers ownership of the whole collection out from under
// future adds, then cancels every task in the captured snapshot.
func (c *subscribeOnClassic) cancelAll() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	snapshot := c.tasks
	c.tasks = nil
	c.mu.Unlock()

	for t := range snapshot {
		t.cancelTask()
	}
}

func (s *subscribeOnSource) subscribeEagerClassic(sink Sink) {
	deferred := &DeferredSubscription{}
	tracker := newSubscribeOnClassic()
	subscribeTask := &scheduledTask{}
	tracker.add(subscribeTask)

	sink.OnSubscribe(&eagerClassicSubscription{deferred: deferred, scheduler: s.scheduler, tracker: tracker})

	cancel := s.scheduler.Schedule(func() {
		if !subscribeTask.finish() {
			return
		}
		tracker.remove(subscribeTask)
		if deferred.IsCancelled() {
			return
		}
		s.source.Subscribe(eagerSubscribeSink{actual: sink, deferred: deferred})
	})
	subscribeTask.setCancel(cancel)
}

// eagerClassicSubscription schedules each Request(n) as its own tracked
// task instead of delegating straight to the deferred subscription's
// buffering Request.
type eagerClassicSubscription struct {
	deferred  *DeferredSubscription
	scheduler Scheduler
	tracker   *subscribeOnClassic
}

func (e *eagerClassicSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	task := &scheduledTask{}
	if !e.tracker.add(task) {
		return
	}
	cancel := e.scheduler.Schedule(func() {
		if !task.finish() {
			return
		}
		e.tracker.remove(task)
		e.deferred.Request(n)
	})
	task.setCancel(cancel)
}

func (e *eagerClassicSubscription) Cancel() {
	e.tracker.cancelAll()
	e.deferred.Cancel()
}
