package rsflow

import "sync/atomic"

// Drop returns a Source that forwards items from source to its downstream
// only while the downstream has outstanding demand; any item that arrives
// with zero outstanding demand is handed to onDrop instead of being
// buffered. It is the backpressure-relief operator: the upstream is asked
// for everything (MaxDemand) the instant it is subscribed, so it never
// itself throttles — the relief valve is entirely on the downstream side.
//
// If onDrop is nil, dropped items are silently discarded.
//
// 丢弃型背压操作符：下游来不及消费的数据直接丢弃（或转交给onDrop），
// 不做任何缓冲，上游则被允许无限量生产。
func Drop(source Source, onDrop func(item interface{})) Source {
	if onDrop == nil {
		onDrop = func(interface{}) {}
	}
	return &dropSource{source: source, onDrop: onDrop}
}

type dropSource struct {
	source Source
	onDrop func(item interface{})
}

func (d *dropSource) Subscribe(sink Sink) {
	d.source.Subscribe(&dropSubscriber{actual: sink, onDrop: d.onDrop})
}

type dropSubscriber struct {
	actual Sink
	onDrop func(item interface{})

	upstream  Subscription
	requested int64
	done      bool // only ever mutated on the signalling goroutine
}

func (s *dropSubscriber) OnSubscribe(upstream Subscription) {
	s.upstream = upstream
	s.actual.OnSubscribe(s)
	upstream.Request(MaxDemand)
}

func (s *dropSubscriber) OnNext(item interface{}) {
	if s.done {
		// Terminal already reached: this OnNext is itself a stray
		// post-terminal signal. onDrop still gets a look at the item, but
		// if it panics here the panic is swallowed to the dropped-signals
		// sink rather than cancelling anything — there is nothing left to
		// cancel or signal.
		s.callOnDropSwallowingPanic(item)
		return
	}

	if atomic.LoadInt64(&s.requested) != 0 {
		s.actual.OnNext(item)
		subCap(&s.requested, 1)
		return
	}

	// Live drop path: onDrop panicking here is fatal to the subscription.
	s.callOnDropOrFail(item)
}

func (s *dropSubscriber) callOnDropSwallowingPanic(item interface{}) {
	defer func() {
		if r := recover(); r != nil {
			_ = recoverToError(r) // re-panics if r is fatal
			onNextDropped(item)
		}
	}()
	s.onDrop(item)
}

// callOnDropOrFail calls onDrop for an item the downstream never requested.
// A panic here is fatal to the subscription: upstream is cancelled and the
// (non-fatal) cause is delivered downstream as OnError. A true fatal panic
// is re-raised by recoverToError.
func (s *dropSubscriber) callOnDropOrFail(item interface{}) {
	defer func() {
		if r := recover(); r != nil {
			err := recoverToError(r)
			s.cancel()
			s.onError(err)
		}
	}()
	s.onDrop(item)
}

func (s *dropSubscriber) OnError(err error) {
	if s.done {
		onErrorDropped(err)
		return
	}
	s.done = true
	s.actual.OnError(err)
}

func (s *dropSubscriber) OnComplete() {
	if s.done {
		return
	}
	s.done = true
	s.actual.OnComplete()
}

// onError delivers a terminal error exactly once from an internal failure
// path (onDrop panicking), distinct from the upstream-driven OnError above.
func (s *dropSubscriber) onError(err error) {
	if s.done {
		onErrorDropped(err)
		return
	}
	s.done = true
	s.actual.OnError(err)
}

func (s *dropSubscriber) cancel() {
	s.upstream.Cancel()
}

// Request credits the internal demand counter; it does not forward to
// upstream, which was already asked for everything up front. An invalid
// request is a protocol violation: upstream is cancelled, same as any other
// terminal error path in this operator, before the error is delivered
// downstream.
func (s *dropSubscriber) Request(n int64) {
	if !validateRequest(n) {
		s.cancel()
		s.onError(ErrInvalidRequest)
		return
	}
	addCap(&s.requested, n)
}

// Cancel forwards to the upstream subscription. Idempotent because the
// upstream Subscription it forwards to is required to be idempotent.
func (s *dropSubscriber) Cancel() {
	s.upstream.Cancel()
}
