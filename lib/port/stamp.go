// Copyright 2026 The Cortex Authors
// SPDX-License-Identifier: Apache-2.0

package port

import "golang.org/x/sys/unix"

// Stamp is a point on the system monotonic clock (CLOCK_MONOTONIC),
// in nanoseconds since boot. Unlike time.Time, a Stamp is meaningful
// across process boundaries on the same machine and serializes into
// a shared-memory region as a plain integer, which is why message
// timestamps and the broker fence use it.
type Stamp int64

// Now returns the current monotonic clock reading.
func Now() Stamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux; a failure
		// here means the process environment is unusable.
		panic("port: clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return Stamp(ts.Nano())
}

// After reports whether s is strictly later than other.
func (s Stamp) After(other Stamp) bool { return s > other }

// Before reports whether s is strictly earlier than other.
func (s Stamp) Before(other Stamp) bool { return s < other }
