package reactor

import "sync/atomic"

// LoopState is the Loop's coarse lifecycle state.
//
//	NotStarted --Run()--> Running --quit()--> Stopped
//	                 \--- Running ---/ (poller is sleeping between ticks,
//	                      but that's not a distinct externally-visible state:
//	                      only whether loop() has returned matters here)
type LoopState uint32

const (
	StateNotStarted LoopState = iota
	StateRunning
	StateStopped
)

// fastState is a cache-line-sized atomic holder for LoopState, following
// the teacher's FastState pattern (state.go) of a single atomic word
// driving the whole lifecycle instead of a mutex-guarded struct.
type fastState struct {
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func (s *fastState) load() LoopState { return LoopState(s.v.Load()) }

func (s *fastState) store(v LoopState) { s.v.Store(uint32(v)) }

// tryTransition performs a CAS from `from` to `to`, returning whether it
// succeeded.
func (s *fastState) tryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
