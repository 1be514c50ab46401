package utils

import (
	"time"

	"salesreach/models"
)

// Clock abstracts wall-clock time so the scheduler can be driven by a fake
// clock in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ComputeNextSendTime returns the send timestamp for a step: the enrollment
// date plus the step's delay in days, with the clock set to the step's
// send hour/minute in the given location. The result may be in the past for
// delay-0 steps or missed cycles; the scheduler treats that as due
// immediately (catch-up, not skip).
func ComputeNextSendTime(enrolledAt time.Time, step models.SequenceStep, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := enrolledAt.In(loc)
	return time.Date(
		local.Year(), local.Month(), local.Day()+step.DelayDays,
		step.SendHour, step.SendMinute, 0, 0,
		loc,
	)
}
