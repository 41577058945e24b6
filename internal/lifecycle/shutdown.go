// Package lifecycle holds the process-wide shutdown signal shared by the
// accept loop and worker pool and the connection drivers they start.
package lifecycle

import "sync/atomic"

// ShutdownFlag is a process-wide atomic boolean checked by every
// long-running loop between iterations, per the concurrency model's
// cooperative-shutdown requirement.
type ShutdownFlag struct {
	flag atomic.Bool
}

// Set marks shutdown as requested.
func (f *ShutdownFlag) Set() { f.flag.Store(true) }

// IsSet reports whether shutdown has been requested.
func (f *ShutdownFlag) IsSet() bool { return f.flag.Load() }
