package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSweeper_EvictsOnTick(t *testing.T) {
	tr := NewTracker()
	tr.Accept("u1", 1, t0)

	s := NewSweeper(tr, func(o *SweeperOptions) {
		o.Interval = 5 * time.Millisecond
		o.Now = func() time.Time { return t0.Add(2 * DefaultIdleThreshold) }
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	s := NewSweeper(NewTracker(), func(o *SweeperOptions) { o.Interval = 0 })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
