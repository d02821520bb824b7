package rsflow

import (
	"sync/atomic"
)

// PublishedSource is what Publish returns: a Source every later Subscribe
// joins as a new downstream, plus a Cancel that tears the whole operator
// down independent of any single downstream's own per-client Cancel —
// upstream is cancelled, no further joiner is accepted, and the prefetch
// buffer is cleared. Cancel is idempotent.
type PublishedSource interface {
	Source
	Cancel()
}

// Publish subscribes a Multicaster to source and returns it as a
// PublishedSource: every later call to Subscribe joins a new downstream to
// the same, single upstream subscription, each seeing the exact same items
// at the exact same position, throttled to the slowest current subscriber.
// prefetch bounds both the initial upstream request and the internal buffer
// size when the upstream does not support SYNC/ASYNC fusion; queueFactory
// supplies that buffer.
//
// 单上游多下游的共享操作符：一次订阅上游，多次分发给任意数量、
// 任意时刻加入的下游订阅者，并以最慢的下游为整体节流基准。
func Publish(source Source, prefetch int, queueFactory QueueFactory) PublishedSource {
	m := newMulticaster(prefetch, queueFactory)
	source.Subscribe(m)
	return m
}

var (
	emptySubscribers      = []*clientSubscription{}
	terminatedSubscribers = []*clientSubscription{}
)

// multicaster is the Publish operator's state machine: the Sink the single
// upstream talks to, and simultaneously the Source its dynamically joining
// downstream clients talk to.
type multicaster struct {
	prefetch int
	limit    int
	queueFn  QueueFactory

	upstream   atomic.Pointer[Subscription]
	sourceMode FusionMode // negotiated once, in OnSubscribe

	queue Queue

	subscribers atomic.Pointer[[]*clientSubscription]

	wip atomic.Int32

	done      atomic.Bool
	cancelled atomic.Bool
	connected atomic.Bool
	error     error // written before done, per the ordering note in DESIGN.md

	produced int // drainAsync's running count toward the next refill
}

func newMulticaster(prefetch int, queueFn QueueFactory) *multicaster {
	if prefetch < 1 {
		prefetch = 1
	}
	m := &multicaster{
		prefetch: prefetch,
		limit:    prefetch - prefetch/4,
		queueFn:  queueFn,
	}
	m.subscribers.Store(&emptySubscribers)
	return m
}

// ---------------------------------------------------------------------------
// Sink side: talking to the single upstream.
// ---------------------------------------------------------------------------

func (m *multicaster) OnSubscribe(sub Subscription) {
	boxed := sub
	if !m.upstream.CompareAndSwap(nil, &boxed) {
		sub.Cancel()
		return
	}

	if fused, ok := sub.(FusedSubscription); ok {
		mode := fused.RequestFusion(FusionAny)
		switch mode {
		case FusionSync:
			m.sourceMode = FusionSync
			m.queue = fusedQueueAdapter{fused}
			m.done.Store(true)
			m.connected.Store(true)
			m.drain()
			return
		case FusionAsync:
			m.sourceMode = FusionAsync
			m.queue = fusedQueueAdapter{fused}
			m.connected.Store(true)
			sub.Request(int64(m.prefetch))
			return
		}
	}

	m.queue = m.queueFn()
	m.connected.Store(true)
	sub.Request(int64(m.prefetch))
}

// fusedQueueAdapter adapts a FusedSubscription's Poll/IsEmpty to the Queue
// interface the drain loop reads through; Offer/Clear are no-ops on an
// adapted fused upstream (the upstream owns that queue).
type fusedQueueAdapter struct {
	FusedSubscription
}

func (fusedQueueAdapter) Offer(interface{}) bool { return true }
func (a fusedQueueAdapter) Clear()               {}

func (m *multicaster) OnNext(item interface{}) {
	if m.done.Load() {
		onNextDropped(item)
		return
	}
	if m.sourceMode != FusionAsync {
		if !m.queue.Offer(item) {
			m.onError(ErrQueueOverflow)
			return
		}
	}
	m.drain()
}

func (m *multicaster) OnError(err error) {
	if m.done.Load() {
		onErrorDropped(err)
		return
	}
	m.onError(err)
}

func (m *multicaster) onError(err error) {
	// Ordering matters: error, then done, then (later, inside drain) the
	// subscriber slice swap to terminated. Readers of error in the
	// late-joiner branch of Subscribe only ever observe it after that final
	// swap, so this order makes the write happen-before the read.
	m.error = err
	m.done.Store(true)
	m.drain()
}

func (m *multicaster) OnComplete() {
	m.done.Store(true)
	m.drain()
}

// ---------------------------------------------------------------------------
// Source side: talking to dynamically joining downstream clients.
// ---------------------------------------------------------------------------

func (m *multicaster) Subscribe(sink Sink) {
	cs := &clientSubscription{parent: m, actual: sink}
	sink.OnSubscribe(cs)

	if m.addSubscriber(cs) {
		if cs.cancelled.Load() {
			m.removeAndDrain(cs)
		} else {
			m.drain()
		}
		return
	}

	if m.error != nil {
		sink.OnError(m.error)
	} else {
		sink.OnComplete()
	}
}

// Cancel is the multicaster's own full-teardown entry, distinct from any
// individual client's Cancel: it cancels the upstream, rejects all current
// and future clients, and clears the buffer.
func (m *multicaster) Cancel() {
	if m.cancelled.Swap(true) {
		return
	}
	if up := m.upstream.Load(); up != nil {
		(*up).Cancel()
	}
	m.subscribers.Store(&terminatedSubscribers)
	if m.wip.Add(1) == 1 {
		if m.connected.Load() && m.queue != nil {
			m.queue.Clear()
		}
	}
}

// ---------------------------------------------------------------------------
// Subscriber slice maintenance.
// ---------------------------------------------------------------------------

func (m *multicaster) addSubscriber(cs *clientSubscription) bool {
	for {
		cur := m.subscribers.Load()
		if cur == &terminatedSubscribers {
			return false
		}
		next := make([]*clientSubscription, len(*cur)+1)
		copy(next, *cur)
		next[len(*cur)] = cs
		if m.subscribers.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

func (m *multicaster) removeAndDrain(cs *clientSubscription) {
	for {
		cur := m.subscribers.Load()
		if cur == &terminatedSubscribers || len(*cur) == 0 {
			return
		}
		idx := -1
		for i, s := range *cur {
			if s == cs {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		var next []*clientSubscription
		if len(*cur) == 1 {
			next = emptySubscribers
		} else {
			next = make([]*clientSubscription, len(*cur)-1)
			copy(next, (*cur)[:idx])
			copy(next[idx:], (*cur)[idx+1:])
		}
		if m.subscribers.CompareAndSwap(cur, &next) {
			m.drain()
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Drain.
// ---------------------------------------------------------------------------

func (m *multicaster) drain() {
	if m.wip.Add(1) != 1 {
		return
	}
	if m.sourceMode == FusionSync {
		m.drainSync()
	} else {
		m.drainAsync()
	}
}

func (m *multicaster) drainSync() {
	missed := int32(1)
	for {
		if m.connected.Load() {
			if m.cancelled.Load() {
				m.queue.Clear()
				return
			}

			subs := *m.subscribers.Load()
			n := len(subs)
			if n != 0 {
				requested := make([]*int64, n)
				for i, s := range subs {
					requested[i] = &s.requested
				}
				r := minDemand(requested)

				var e int64
				for e != r {
					if m.cancelled.Load() {
						m.queue.Clear()
						return
					}

					v, ok, polErr := m.pollChecked()
					if polErr != nil {
						m.queue.Clear()
						m.error = polErr
						m.broadcastError(subs, polErr)
						return
					}
					if !ok {
						m.broadcastComplete(subs)
						return
					}
					for _, s := range subs {
						s.actual.OnNext(v)
					}
					e++
				}

				if e == r {
					if m.cancelled.Load() {
						m.queue.Clear()
						return
					}
					if m.queue.IsEmpty() {
						m.broadcastComplete(subs)
						return
					}
				}

				if e != 0 {
					for _, s := range subs {
						s.produced(e)
					}
				}
			}
		}

		missed = m.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// pollChecked polls the queue, converting a panic from a misbehaving fused
// upstream into a returned error rather than letting it escape the drain
// loop.
func (m *multicaster) pollChecked() (v interface{}, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	v, ok = m.queue.Poll()
	return v, ok, nil
}

func (m *multicaster) drainAsync() {
	missed := int32(1)
	p := m.produced

	for {
		if m.connected.Load() {
			if m.cancelled.Load() {
				m.queue.Clear()
				return
			}

			subs := *m.subscribers.Load()
			n := len(subs)
			if n != 0 {
				requested := make([]*int64, n)
				for i, s := range subs {
					requested[i] = &s.requested
				}
				r := minDemand(requested)

				var e int64
				for e != r {
					if m.cancelled.Load() {
						m.queue.Clear()
						return
					}

					d := m.done.Load()

					v, ok, polErr := m.pollAsync()
					if polErr != nil {
						m.queue.Clear()
						m.error = polErr
						m.broadcastError(subs, polErr)
						return
					}

					if d {
						if m.error != nil {
							m.queue.Clear()
							m.broadcastError(subs, m.error)
							return
						}
						if !ok {
							m.broadcastComplete(subs)
							return
						}
					}

					if !ok {
						break
					}

					for _, s := range subs {
						s.actual.OnNext(v)
					}
					e++
					p++
					if p == m.limit {
						if up := m.upstream.Load(); up != nil {
							(*up).Request(int64(m.limit))
						}
						p = 0
					}
				}

				if e == r {
					if m.cancelled.Load() {
						m.queue.Clear()
						return
					}
					d := m.done.Load()
					empty := m.queue.IsEmpty()
					if d {
						if m.error != nil {
							m.queue.Clear()
							m.broadcastError(subs, m.error)
							return
						}
						if empty {
							m.broadcastComplete(subs)
							return
						}
					}
				}

				if e != 0 {
					for _, s := range subs {
						s.produced(e)
					}
				}
			}
		}

		m.produced = p

		missed = m.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (m *multicaster) pollAsync() (v interface{}, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if up := m.upstream.Load(); up != nil {
				(*up).Cancel()
			}
			err = recoverToError(r)
		}
	}()
	v, ok = m.queue.Poll()
	return v, ok, nil
}

func (m *multicaster) broadcastComplete(subs []*clientSubscription) {
	m.subscribers.Store(&terminatedSubscribers)
	for _, s := range subs {
		s.actual.OnComplete()
	}
}

func (m *multicaster) broadcastError(subs []*clientSubscription, err error) {
	m.subscribers.Store(&terminatedSubscribers)
	for _, s := range subs {
		s.actual.OnError(err)
	}
}

// ---------------------------------------------------------------------------
// clientSubscription: one joined downstream.
// ---------------------------------------------------------------------------

type clientSubscription struct {
	parent    *multicaster
	actual    Sink
	requested int64
	cancelled atomic.Bool
}

func (c *clientSubscription) Request(n int64) {
	if !validateRequest(n) {
		// An invalid request is terminal for this one client: deliver the
		// error, then remove it from the broadcast set exactly like Cancel
		// does, so it neither stalls minDemand for everyone else nor goes
		// on to receive a broadcast signal after its own terminal one.
		if c.cancelled.CompareAndSwap(false, true) {
			c.actual.OnError(ErrInvalidRequest)
			c.parent.removeAndDrain(c)
		}
		return
	}
	addCap(&c.requested, n)
	c.parent.drain()
}

func (c *clientSubscription) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.parent.removeAndDrain(c)
	}
}

func (c *clientSubscription) produced(n int64) {
	subCap(&c.requested, n)
}
