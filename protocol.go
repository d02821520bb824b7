// Package rsflow implements the operator runtime for a reactive-streams
// pipeline: the per-operator state machines that move items from a
// push-based, demand-regulated upstream producer to a downstream consumer.
//
// 响应式流操作符运行时核心，基于Reactive Streams规范实现需求驱动的
// 异步数据传递、级联取消以及操作符间的快速融合协议。
package rsflow

// Sink receives the four-symbol signal alphabet from a Source: OnSubscribe
// exactly once, then zero or more OnNext, then at most one of OnComplete or
// OnError. Implementations must not be called re-entrantly and must not see
// any signal after a terminal one.
type Sink interface {
	// OnSubscribe is always the first signal delivered to a freshly
	// subscribed Sink.
	OnSubscribe(sub Subscription)
	// OnNext delivers the next item in the sequence.
	OnNext(item interface{})
	// OnError delivers the terminal error signal. No further signals follow.
	OnError(err error)
	// OnComplete delivers the terminal completion signal. No further
	// signals follow.
	OnComplete()
}

// Subscription is the handle a Source gives its Sink for pulling items and
// for cancelling the stream.
type Subscription interface {
	// Request signals that the Sink is ready to accept n more items. n must
	// be strictly positive; a non-positive n is a protocol violation.
	Request(n int64)
	// Cancel asks the upstream to stop sending signals. Idempotent.
	Cancel()
}

// Source is a producer of items; Subscribe is its only entry point. A
// well-behaved Source calls sink.OnSubscribe before any other signal.
type Source interface {
	Subscribe(sink Sink)
}

// FusionMode is the bitmask negotiated between adjacent fuseable stages.
type FusionMode int32

const (
	// FusionNone means fusion was rejected; the normal OnNext protocol applies.
	FusionNone FusionMode = 0
	// FusionSync means the upstream's items are always immediately available
	// via Poll/IsEmpty; OnNext is never called.
	FusionSync FusionMode = 1
	// FusionAsync means items arrive via a queue owned by the upstream;
	// OnNext becomes a wake-up signal whose item argument is ignored.
	FusionAsync FusionMode = 2
	// FusionAny requests either fusion mode, whichever the upstream prefers.
	FusionAny = FusionSync | FusionAsync
)

// FusedSubscription is the optional fast-path extension to Subscription. A
// Source that implements it on the Subscription it hands to OnSubscribe lets
// the downstream negotiate SYNC/ASYNC fusion instead of the plain push
// protocol.
//
// Implementations offering FusionSync must guarantee: Poll never panics
// except to signal a fatal source error, IsEmpty is O(1) and side-effect
// free, and completion is exactly "Poll returns (nil, false)" — never
// double-signalled alongside a later OnComplete/OnError.
type FusedSubscription interface {
	Subscription

	// RequestFusion negotiates a fusion mode. The return value is the
	// subset of requestedMode the implementation actually honors; FusionNone
	// if it honors none of it.
	RequestFusion(requestedMode FusionMode) FusionMode
	// Poll retrieves and removes the next item, or reports the queue empty.
	Poll() (item interface{}, ok bool)
	// IsEmpty reports whether Poll would currently return ok=false.
	IsEmpty() bool
}
