package services

import (
	"time"

	"marketplace/internal/domain"
)

// systemClock is the production domain.Clock backed by the time package.
type systemClock struct{}

func NewSystemClock() domain.Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	return time.AfterFunc(d, fn)
}
