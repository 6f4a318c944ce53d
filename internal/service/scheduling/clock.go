package scheduling

import "time"

// Clock is injectable so the lockout boundary can be tested without waiting
// for wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
