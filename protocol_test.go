package rsflow

import (
	"sync"
)

// recordingSink is the shared test double used across this package's test
// files: it records every signal it receives, in order, behind a mutex so
// tests can assert on the exact sequence a Source produced.
type recordingSink struct {
	mu              sync.Mutex
	sub             Subscription
	items           []interface{}
	err             error
	completed       bool
	onSubCount      int
	onErrorCount    int
	onCompleteCount int
}

func (r *recordingSink) OnSubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sub = sub
	r.onSubCount++
}

func (r *recordingSink) OnNext(item interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func (r *recordingSink) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.onErrorCount++
}

func (r *recordingSink) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
	r.onCompleteCount++
}

func (r *recordingSink) snapshot() (items []interface{}, err error, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]interface{}, len(r.items))
	copy(cp, r.items)
	return cp, r.err, r.completed
}

// signalCounts reports how many times each terminal signal has actually been
// delivered, to catch a double-delivery that a plain bool flag would hide.
func (r *recordingSink) signalCounts() (onError, onComplete int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onErrorCount, r.onCompleteCount
}

func (r *recordingSink) subscription() Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// request is a small convenience: block-free, it just forwards to the
// recorded Subscription once OnSubscribe has happened.
func (r *recordingSink) request(n int64) {
	r.subscription().Request(n)
}
