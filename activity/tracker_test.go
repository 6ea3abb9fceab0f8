package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_TooLongDoesNotMutate(t *testing.T) {
	tr := NewTracker()
	d := tr.Accept("u1", DefaultMaxMessageLen+1, t0)
	assert.Equal(t, RejectTooLong, d.Verdict)
	_, ok := tr.Get("u1")
	assert.False(t, ok)

	d = tr.Accept("u1", DefaultMaxMessageLen, t0)
	assert.True(t, d.Accepted())
	assert.True(t, d.FirstContact)
}

func TestTracker_Cooldown(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Accept("u1", 5, t0).Accepted())

	d := tr.Accept("u1", 5, t0.Add(999*time.Millisecond))
	assert.Equal(t, RejectRateLimited, d.Verdict)

	entry, _ := tr.Get("u1")
	assert.Equal(t, t0, entry.LastMessage, "rejection must not touch the ledger")
	assert.Equal(t, 1, entry.MessageCount)

	d = tr.Accept("u1", 5, t0.Add(time.Second))
	assert.True(t, d.Accepted())
	assert.False(t, d.FirstContact)

	entry, _ = tr.Get("u1")
	assert.Equal(t, 2, entry.MessageCount)
	assert.Equal(t, t0.Add(time.Second), entry.LastMessage)
}

func TestTracker_ClockGoingBackwardsIsRejected(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Accept("u1", 1, t0).Accepted())
	d := tr.Accept("u1", 1, t0.Add(-time.Hour))
	assert.Equal(t, RejectRateLimited, d.Verdict)
	entry, _ := tr.Get("u1")
	assert.Equal(t, t0, entry.LastMessage)
}

func TestTracker_UsersAreIndependent(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.Accept("u1", 1, t0).Accepted())
	assert.True(t, tr.Accept("u2", 1, t0).Accepted())
	assert.Equal(t, []string{"u1", "u2"}, tr.Active())
	assert.Equal(t, 2, tr.Len())
}

func TestTracker_SweepRemovesIdleAndResetsCooldown(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Accept("idle", 1, t0).Accepted())
	require.True(t, tr.Accept("busy", 1, t0.Add(59*time.Minute)).Accepted())

	removed := tr.Sweep(t0.Add(DefaultIdleThreshold + time.Second))
	assert.Equal(t, []string{"idle"}, removed)
	assert.Equal(t, []string{"busy"}, tr.Active())

	// idempotent
	assert.Empty(t, tr.Sweep(t0.Add(DefaultIdleThreshold+time.Second)))

	d := tr.Accept("idle", 1, t0.Add(DefaultIdleThreshold+2*time.Second))
	assert.True(t, d.Accepted())
	assert.True(t, d.FirstContact)
}

func TestTracker_CustomOptions(t *testing.T) {
	tr := NewTracker(func(o *Options) {
		o.MaxMessageLen = 3
		o.Cooldown = 0
	})
	assert.Equal(t, RejectTooLong, tr.Accept("u", 4, t0).Verdict)
	assert.True(t, tr.Accept("u", 3, t0).Accepted())
	assert.True(t, tr.Accept("u", 3, t0).Accepted())
	assert.Equal(t, 3, tr.MaxMessageLen())
}

func TestTracker_ConcurrentAcceptAndSweep(t *testing.T) {
	tr := NewTracker(func(o *Options) { o.Cooldown = 0 })
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Accept(string(rune('a'+i)), 1, t0.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Sweep(t0)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, tr.Len())
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "reject_too_long", RejectTooLong.String())
	assert.Equal(t, "reject_rate_limited", RejectRateLimited.String())
}
