package clock

import "time"

// Clock abstracts the current instant so polling loops and expiry checks
// can be driven by a fixed time in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the system time.
type RealClock struct{}

// Now returns the system time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
