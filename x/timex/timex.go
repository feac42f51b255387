package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Deadline is a monotonic expiry point for polling loops.
type Deadline struct {
	at time.Time
}

// After returns a deadline d from now. d <= 0 is already expired.
func After(d time.Duration) Deadline { return Deadline{at: time.Now().Add(d)} }

// AfterUs is the microsecond form used by register polling.
func AfterUs(us uint32) Deadline { return After(time.Duration(us) * time.Microsecond) }

// Elapsed reports whether the deadline has passed.
func (d Deadline) Elapsed() bool { return !time.Now().Before(d.at) }

// Ms converts a millisecond count from config into a Duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
