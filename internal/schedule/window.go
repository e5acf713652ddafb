package schedule

import (
	"time"
)

const (
	DefaultBookingHorizonDays = 7
	DefaultSameDayBuffer      = 30 * time.Minute
)

// Policy decides whether a date and time slot may be booked at a given moment.
// It never reads the clock; callers pass "now".
type Policy struct {
	HorizonDays   int
	SameDayBuffer time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		HorizonDays:   DefaultBookingHorizonDays,
		SameDayBuffer: DefaultSameDayBuffer,
	}
}

// ValidateDate accepts dates from today through today+HorizonDays inclusive,
// with "today" taken in the date's location.
func (p Policy) ValidateDate(date, now time.Time) error {
	day := StartOfDay(date)
	today := StartOfDay(now.In(date.Location()))

	if day.Before(today) {
		return ErrPastDate
	}
	if day.After(today.AddDate(0, 0, p.HorizonDays)) {
		return ErrBookingHorizonExceeded
	}
	return nil
}

// ValidateTimeBuffer only constrains same-day bookings: the slot must start at
// least SameDayBuffer after now.
func (p Policy) ValidateTimeBuffer(date time.Time, timeSlot string, now time.Time) error {
	ts, err := ParseTimeSlot(timeSlot)
	if err != nil {
		return err
	}
	return p.validateBuffer(date, ts, now)
}

func (p Policy) validateBuffer(date time.Time, ts TimeSlot, now time.Time) error {
	local := now.In(date.Location())
	if !StartOfDay(date).Equal(StartOfDay(local)) {
		return nil
	}
	if ts.Start.On(date).Sub(local) < p.SameDayBuffer {
		return &BufferError{Now: local, TimeSlot: ts.String(), Buffer: p.SameDayBuffer}
	}
	return nil
}

// CheckSlot applies the buffer rule to a generated slot.
func (p Policy) CheckSlot(s Slot, now time.Time) error {
	return p.validateBuffer(s.Date, s.TimeSlot(), now)
}
