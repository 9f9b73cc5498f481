package orchestrator

import (
	"sync"
	"time"
)

// AfterFunc schedules f after d and returns a function that cancels it.
// The cancel function reports whether the call was prevented.
type AfterFunc func(d time.Duration, f func()) (cancel func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// timerSet tracks outstanding one-shot tasks per light.
type timerSet struct {
	after AfterFunc

	mu      sync.Mutex
	seq     uint64
	pending map[int]map[uint64]func() bool
	closed  bool
}

func newTimerSet(after AfterFunc) *timerSet {
	return &timerSet{after: after, pending: make(map[int]map[uint64]func() bool)}
}

// schedule arms f for the light. It returns false once the set is closed.
func (t *timerSet) schedule(lightID int, d time.Duration, f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.seq++
	key := t.seq
	if t.pending[lightID] == nil {
		t.pending[lightID] = make(map[uint64]func() bool)
	}

	t.pending[lightID][key] = t.after(d, func() {
		t.mu.Lock()
		delete(t.pending[lightID], key)
		if len(t.pending[lightID]) == 0 {
			delete(t.pending, lightID)
		}
		t.mu.Unlock()
		f()
	})
	return true
}

func (t *timerSet) count(lightID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[lightID])
}

// stopAll cancels every outstanding task and refuses new ones.
func (t *timerSet) stopAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	stopped := 0
	for _, timers := range t.pending {
		for _, cancel := range timers {
			if cancel() {
				stopped++
			}
		}
	}
	t.pending = make(map[int]map[uint64]func() bool)
	return stopped
}
