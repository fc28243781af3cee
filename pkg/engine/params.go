// ABOUTME: Versioned engine-level parameter snapshots
// ABOUTME: Writers serialize on a mutex; the audio thread loads one pointer
package engine

import "sync/atomic"

// Params is the engine-level chain configuration: which stages the cycle
// runs. Per-stage parameters live in the stages' own snapshots; this one
// controls chain shape. A cycle observes exactly one version, never a mix.
type Params struct {
	Version uint64

	EqualizerEnabled      bool
	CompressorEnabled     bool
	RoomCorrectionEnabled bool
	SpatialEnabled        bool
	AIEnabled             bool
}

// DefaultParams enables every configured stage.
func DefaultParams() Params {
	return Params{
		EqualizerEnabled:      true,
		CompressorEnabled:     true,
		RoomCorrectionEnabled: true,
		SpatialEnabled:        true,
		AIEnabled:             true,
	}
}

// paramStore holds the current snapshot. Multiple control-plane writers
// are serialized; the audio thread reads lock-free.
type paramStore struct {
	mu      chan struct{} // 1-slot semaphore, keeps the store copyable-free
	current atomic.Pointer[Params]
}

func newParamStore(initial Params) *paramStore {
	s := &paramStore{mu: make(chan struct{}, 1)}
	initial.Version = 1
	s.current.Store(&initial)
	return s
}

// load returns the current snapshot pointer; audio-thread safe.
func (s *paramStore) load() *Params {
	return s.current.Load()
}

// update applies mutate to a copy of the current snapshot and publishes it
// with the next version. Concurrent updates serialize; a reader sees the
// old snapshot in full or the new one in full.
func (s *paramStore) update(mutate func(*Params)) Params {
	s.mu <- struct{}{}
	defer func() { <-s.mu }()

	next := *s.current.Load()
	mutate(&next)
	next.Version = s.current.Load().Version + 1
	s.current.Store(&next)
	return next
}
