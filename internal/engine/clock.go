package engine

import "time"

// Clock: источник времени для меток тиков. В тестах подменяется.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
