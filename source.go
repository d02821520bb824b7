package rsflow

import "sync/atomic"

// FromSlice returns a Source that emits each element of items in order, then
// completes. Its Subscription supports SYNC fusion so operators under test
// can exercise the fast path without a full producer catalog.
func FromSlice(items []interface{}) Source {
	// Defensive copy: the caller must not be able to mutate in-flight state.
	cp := make([]interface{}, len(items))
	copy(cp, items)
	return &sliceSource{items: cp}
}

// Empty returns a Source that completes immediately without emitting.
func Empty() Source { return &sliceSource{} }

// Error returns a Source that fails immediately with err without emitting.
func Error(err error) Source { return &errorSource{err: err} }

type sliceSource struct {
	items []interface{}
}

func (s *sliceSource) Subscribe(sink Sink) {
	sub := &sliceSubscription{items: s.items, sink: sink}
	sink.OnSubscribe(sub)
	if len(s.items) == 0 && !sub.fused {
		// Nothing to wait for: an empty sequence completes without needing
		// a Request, same as Reactor's Mono.empty(). A SYNC-fused consumer
		// instead sees completion as Poll returning (nil, false).
		if sub.done.CompareAndSwap(false, true) {
			sink.OnComplete()
		}
	}
}

// sliceSubscription is a SYNC-fuseable Subscription over a fixed slice. When
// fusion is not negotiated, it falls back to emitting via OnNext as items
// are requested.
type sliceSubscription struct {
	items     []interface{}
	index     int
	sink      Sink
	cancelled atomic.Bool
	fused     bool
	requested int64
	draining  atomic.Bool
	done      atomic.Bool // terminal reached: OnComplete/OnError delivered exactly once
}

func (s *sliceSubscription) RequestFusion(requestedMode FusionMode) FusionMode {
	if requestedMode&FusionSync != 0 {
		s.fused = true
		return FusionSync
	}
	return FusionNone
}

func (s *sliceSubscription) Poll() (interface{}, bool) {
	if s.index >= len(s.items) {
		return nil, false
	}
	v := s.items[s.index]
	s.index++
	return v, true
}

func (s *sliceSubscription) IsEmpty() bool {
	return s.index >= len(s.items)
}

func (s *sliceSubscription) Request(n int64) {
	if s.fused {
		// In SYNC fusion mode requests are not tracked: the consumer pulls
		// via Poll/IsEmpty directly and Request is a no-op wakeup.
		return
	}
	if !validateRequest(n) {
		s.emitError(ErrInvalidRequest)
		return
	}
	addCap(&s.requested, n)
	s.drain()
}

func (s *sliceSubscription) drain() {
	if !s.draining.CompareAndSwap(false, true) {
		return
	}
	defer s.draining.Store(false)

	for {
		if s.cancelled.Load() || s.done.Load() {
			return
		}
		if s.index >= len(s.items) {
			if s.done.CompareAndSwap(false, true) {
				s.sink.OnComplete()
			}
			return
		}
		if atomic.LoadInt64(&s.requested) == 0 {
			return
		}
		v := s.items[s.index]
		s.index++
		s.sink.OnNext(v)
		subCap(&s.requested, 1)
	}
}

func (s *sliceSubscription) emitError(err error) {
	if s.cancelled.Load() || s.done.Load() {
		return
	}
	if s.done.CompareAndSwap(false, true) {
		s.sink.OnError(err)
	}
}

func (s *sliceSubscription) Cancel() {
	s.cancelled.Store(true)
}

type errorSource struct{ err error }

func (e *errorSource) Subscribe(sink Sink) {
	sink.OnSubscribe(noopSubscription{})
	sink.OnError(e.err)
}

// noopSubscription is handed to sinks of degenerate sources (Error) whose
// Request/Cancel have nothing to do.
type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}
