package infra

import (
	"time"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// TimeScheduler implements domain.Scheduler with time.AfterFunc.
type TimeScheduler struct{}

// NewTimeScheduler creates a wall-clock scheduler.
func NewTimeScheduler() domain.Scheduler {
	return TimeScheduler{}
}

// AfterFunc runs fn on its own goroutine after d.
func (TimeScheduler) AfterFunc(d time.Duration, fn func()) domain.Timer {
	return time.AfterFunc(d, fn)
}

// Ensure TimeScheduler implements domain.Scheduler.
var _ domain.Scheduler = TimeScheduler{}
