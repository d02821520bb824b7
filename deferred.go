package rsflow

import "sync/atomic"

// DeferredSubscription is a downstream-visible Subscription that stands in
// before the real upstream Subscription is known. It buffers Request and
// Cancel calls and replays them exactly once, in order, once Set supplies
// the real upstream.
//
// 延迟订阅：在真正的上游订阅到达之前代理下游的request/cancel调用，
// 保证每一次请求最终都会且只会被转发一次。
type DeferredSubscription struct {
	upstream  atomic.Pointer[Subscription]
	requested int64 // pending-requested counter, used only before upstream is set
	cancelled atomic.Bool
}

// Set installs the real upstream Subscription. Returns false if a upstream
// was already set or the deferred subscription was cancelled first — in
// that case the caller's subscription is immediately cancelled and must not
// be used. On success, any amount accumulated via Request before this call
// is forwarded upstream exactly once.
func (d *DeferredSubscription) Set(upstream Subscription) bool {
	if d.cancelled.Load() {
		upstream.Cancel()
		return false
	}
	if !d.upstream.CompareAndSwap(nil, &upstream) {
		upstream.Cancel()
		return false
	}
	if d.cancelled.Load() {
		upstream.Cancel()
		return false
	}
	if pending := atomic.SwapInt64(&d.requested, 0); pending > 0 {
		upstream.Request(pending)
	}
	return true
}

// Request forwards n upstream if the real Subscription is already known,
// otherwise accumulates it (saturating) for replay by Set.
func (d *DeferredSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	if up := d.upstream.Load(); up != nil {
		(*up).Request(n)
		return
	}
	addCap(&d.requested, n)
	// upstream may have been set concurrently between the load above and
	// the addCap; re-check and flush so the pending amount is never stranded.
	if up := d.upstream.Load(); up != nil {
		if pending := atomic.SwapInt64(&d.requested, 0); pending > 0 {
			(*up).Request(pending)
		}
	}
}

// Cancel marks the deferred subscription cancelled and cancels the real
// upstream if it has already been set. Idempotent.
func (d *DeferredSubscription) Cancel() {
	if d.cancelled.Swap(true) {
		return
	}
	if up := d.upstream.Load(); up != nil {
		(*up).Cancel()
	}
}

// IsCancelled reports whether Cancel has been called.
func (d *DeferredSubscription) IsCancelled() bool {
	return d.cancelled.Load()
}
