//go:build !(linux || darwin || freebsd)

package plugin

// applyLimits is a no-op where rlimits are unavailable; the wall-clock
// timeout enforced by the parent still applies.
func applyLimits(_, _ uint64) error { return nil }
