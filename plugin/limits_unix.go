//go:build linux || darwin || freebsd

package plugin

import "golang.org/x/sys/unix"

// applyLimits caps address space and CPU time of the current process.
func applyLimits(memoryBytes, cpuSeconds uint64) error {
	if memoryBytes > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: memoryBytes, Max: memoryBytes}); err != nil {
			return err
		}
	}
	if cpuSeconds > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}); err != nil {
			return err
		}
	}
	return nil
}
