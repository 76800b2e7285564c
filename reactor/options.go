package reactor

import (
	"time"

	"github.com/joeycumines/logiface"
)

// Option configures a Loop at construction time, following the teacher's
// functional-options convention (options.go).
type Option func(*loopConfig)

type loopConfig struct {
	logger         *logiface.Logger[logiface.Event]
	maxPollTimeout time.Duration
	onOverload     func(pending int)
}

func defaultLoopConfig() *loopConfig {
	return &loopConfig{
		maxPollTimeout: maxPollTimeout,
	}
}

// WithLogger injects a structured logger. If omitted, a no-op logger is
// used and the loop emits nothing.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *loopConfig) { c.logger = logger }
}

// WithMaxPollTimeout overrides the cap applied to the poller wait when no
// timer is due sooner (spec.md §4.4 / SPEC_FULL.md §4.11 item 2).
func WithMaxPollTimeout(d time.Duration) Option {
	return func(c *loopConfig) {
		if d > 0 {
			c.maxPollTimeout = d
		}
	}
}

// WithOverloadCallback registers a callback invoked when the pending
// functor queue exceeds the per-tick processing budget, so callers can
// observe backpressure instead of it silently accumulating latency.
func WithOverloadCallback(fn func(pending int)) Option {
	return func(c *loopConfig) { c.onOverload = fn }
}
