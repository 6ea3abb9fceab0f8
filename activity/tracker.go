package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/neurallink/logging"
)

// Defaults for Options.
const (
	DefaultMaxMessageLen = 500
	DefaultCooldown      = time.Second
	DefaultIdleThreshold = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Verdict is the outcome of Tracker.Accept.
type Verdict int

const (
	// Accept means the message passed both gates and was recorded.
	Accept Verdict = iota
	// RejectTooLong means the message exceeded the maximum length.
	RejectTooLong
	// RejectRateLimited means the sender is still inside the cooldown.
	RejectRateLimited
)

// String returns a log friendly name.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectTooLong:
		return "reject_too_long"
	case RejectRateLimited:
		return "reject_rate_limited"
	default:
		return "unknown"
	}
}

// Decision bundles the verdict with whether the sender had no entry before.
type Decision struct {
	Verdict      Verdict
	FirstContact bool
}

// Accepted reports whether the message was accepted.
func (d Decision) Accepted() bool { return d.Verdict == Accept }

// UserActivity is a snapshot of one ledger entry.
type UserActivity struct {
	UserID       string
	LastMessage  time.Time
	MessageCount int
}

// Options configures a Tracker.
type Options struct {
	MaxMessageLen int
	Cooldown      time.Duration
	IdleThreshold time.Duration
	Logger        logging.Logger
}

// Tracker is the per-user last-message / message-count ledger. It is safe
// for concurrent use; Accept and Sweep may run at the same time.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*UserActivity
	opts    Options
}

// NewTracker creates an empty tracker.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	opts := Options{
		MaxMessageLen: DefaultMaxMessageLen,
		Cooldown:      DefaultCooldown,
		IdleThreshold: DefaultIdleThreshold,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Tracker{entries: make(map[string]*UserActivity), opts: opts}
}

// Accept applies the length and cooldown gates for a message of messageLen
// units from userID at now. Only an accepted message mutates the ledger.
func (t *Tracker) Accept(userID string, messageLen int, now time.Time) Decision {
	if messageLen > t.opts.MaxMessageLen {
		return Decision{Verdict: RejectTooLong}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[userID]
	if !ok {
		t.entries[userID] = &UserActivity{UserID: userID, LastMessage: now, MessageCount: 1}
		return Decision{Verdict: Accept, FirstContact: true}
	}
	// A clock going backwards lands here too since the difference is negative.
	if now.Sub(entry.LastMessage) < t.opts.Cooldown {
		return Decision{Verdict: RejectRateLimited}
	}
	entry.LastMessage = now
	entry.MessageCount++
	return Decision{Verdict: Accept}
}

// Sweep removes every entry idle for longer than the inactivity threshold
// and returns the removed user ids. Running it twice is harmless.
func (t *Tracker) Sweep(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, entry := range t.entries {
		if now.Sub(entry.LastMessage) > t.opts.IdleThreshold {
			delete(t.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		t.opts.Logger.Debug("activity.sweep.removed", "count", len(removed))
	}
	return removed
}

// Get returns a copy of the entry for userID.
func (t *Tracker) Get(userID string) (UserActivity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok {
		return UserActivity{}, false
	}
	return *entry, true
}

// Forget drops the entry for userID.
func (t *Tracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, userID)
}

// Active returns the tracked user ids in lexical order.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked users.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// MaxMessageLen returns the configured length limit.
func (t *Tracker) MaxMessageLen() int { return t.opts.MaxMessageLen }
