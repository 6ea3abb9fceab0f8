package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/neurallink/core"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func turn(i int) core.Turn {
	return core.NewUserTurn("u", fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second))
}

func TestWindow_NeverExceedsCap(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 10} {
		w := NewWindow(capacity)
		for i := 0; i < 3*capacity+1; i++ {
			w.Append(turn(i))
			require.LessOrEqual(t, w.Len(), capacity)
		}
		assert.Equal(t, capacity, w.Len())
	}
}

func TestWindow_FIFOEviction(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(turn(i))
	}
	want := []core.Turn{turn(2), turn(3), turn(4)}
	if diff := cmp.Diff(want, w.Turns()); diff != "" {
		t.Fatalf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestWindow_SnapshotPrependsSystemTurn(t *testing.T) {
	w := NewWindow(2)
	w.Append(turn(0))
	w.Append(turn(1))
	w.Append(turn(2))

	snap := w.Snapshot("be nice")
	want := []core.Turn{
		{Role: core.RoleSystem, Text: "be nice"},
		turn(1),
		turn(2),
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// snapshot is a copy
	snap[1].Text = "mutated"
	assert.Equal(t, "m1", w.Turns()[0].Text)
}

func TestWindow_Clear(t *testing.T) {
	w := NewWindow(4)
	for i := 0; i < 6; i++ {
		w.Append(turn(i))
	}
	w.Clear()
	assert.Equal(t, 0, w.Len())
	assert.Len(t, w.Snapshot("s"), 1)

	w.Append(turn(9))
	assert.Equal(t, []core.Turn{turn(9)}, w.Turns())
	assert.Equal(t, 4, w.Cap())
}

func TestWindow_InvalidCapPanics(t *testing.T) {
	assert.Panics(t, func() { NewWindow(0) })
}

func TestWindow_ConcurrentAppend(t *testing.T) {
	w := NewWindow(DefaultCap)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Append(turn(g*100 + i))
				_ = w.Snapshot("x")
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, DefaultCap, w.Len())
}
