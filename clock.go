package sentinel

import "time"

// Clock is the time source used for all expiration and rotation math.
// Injecting it lets tests pin "now"; production code uses [SystemClock].
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
