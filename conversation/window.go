// Package conversation holds the bounded dialogue window scoped to the
// current room.
package conversation

import (
	"fmt"
	"sync"

	"github.com/hupe1980/neurallink/core"
)

// DefaultCap is the default number of retained turns.
const DefaultCap = 10

// Window is an ordered, bounded sequence of turns backed by a ring buffer.
// Appending past the cap evicts the oldest turn, so Len never exceeds Cap.
// Window is safe for concurrent use.
type Window struct {
	mu    sync.RWMutex
	buf   []core.Turn
	start int // index of the oldest turn
	n     int
}

// NewWindow creates a window retaining at most capacity turns. A capacity
// below one is a programming error and panics.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		panic(fmt.Sprintf("conversation: window capacity must be positive, got %d", capacity))
	}
	return &Window{buf: make([]core.Turn, capacity)}
}

// Append adds turn as the newest entry, evicting the oldest when full.
func (w *Window) Append(turn core.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = turn
		w.n++
		return
	}
	w.buf[w.start] = turn
	w.start = (w.start + 1) % len(w.buf)
}

// Turns returns the stored turns oldest first.
func (w *Window) Turns() []core.Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.turnsLocked()
}

func (w *Window) turnsLocked() []core.Turn {
	out := make([]core.Turn, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Snapshot returns a system turn carrying systemPrompt followed by the
// stored turns oldest first. The returned slice is owned by the caller.
func (w *Window) Snapshot(systemPrompt string) []core.Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]core.Turn, 0, w.n+1)
	out = append(out, core.Turn{Role: core.RoleSystem, Text: systemPrompt})
	return append(out, w.turnsLocked()...)
}

// Clear drops every stored turn.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero core.Turn
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.start, w.n = 0, 0
}

// Len returns the number of stored turns.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n
}

// Cap returns the maximum number of stored turns.
func (w *Window) Cap() int { return len(w.buf) }
