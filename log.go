package rsflow

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DroppedSignalHandler is called for every signal that arrives after an
// operator has already reached a terminal state. It must never propagate as
// a live signal and must never block the drain that invokes it.
type DroppedSignalHandler interface {
	// OnNextDropped is invoked for a post-terminal OnNext.
	OnNextDropped(item interface{})
	// OnErrorDropped is invoked for a post-terminal OnError.
	OnErrorDropped(err error)
}

var currentLogger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	currentLogger.Store(&nop)
}

// SetLogger installs the zerolog.Logger used by the default dropped-signal
// handler. It is a configurable hook at the library boundary rather than a
// bare package-level logger, matching the re-architecture guidance to keep
// this swappable for tests.
func SetLogger(l zerolog.Logger) {
	currentLogger.Store(&l)
}

func logger() *zerolog.Logger {
	return currentLogger.Load()
}

// defaultDroppedSignalHandler logs dropped signals at Warn level via the
// package logger. It never panics: logging failures are the logger's
// problem, not the drain's.
type defaultDroppedSignalHandler struct{}

func (defaultDroppedSignalHandler) OnNextDropped(item interface{}) {
	logger().Warn().Interface("item", item).Msg("rsflow: onNext dropped after terminal signal")
}

func (defaultDroppedSignalHandler) OnErrorDropped(err error) {
	logger().Warn().Err(err).Msg("rsflow: onError dropped after terminal signal")
}

var droppedSignals atomic.Pointer[DroppedSignalHandler]

func init() {
	var h DroppedSignalHandler = defaultDroppedSignalHandler{}
	droppedSignals.Store(&h)
}

// SetDroppedSignalHandler swaps the process-wide dropped-signal sink. Tests
// that need to assert on drops rather than scrape log output should install
// their own handler and restore the previous one via t.Cleanup.
func SetDroppedSignalHandler(h DroppedSignalHandler) (previous DroppedSignalHandler) {
	previous = *droppedSignals.Load()
	droppedSignals.Store(&h)
	return previous
}

// onNextDropped routes a post-terminal OnNext to the installed handler.
func onNextDropped(item interface{}) {
	(*droppedSignals.Load()).OnNextDropped(item)
}

// onErrorDropped routes a post-terminal OnError to the installed handler.
func onErrorDropped(err error) {
	(*droppedSignals.Load()).OnErrorDropped(err)
}
