package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfiguration   = errors.New("invalid availability configuration")
	ErrMalformedTimeSlot      = errors.New("malformed time slot, expected HH:MM-HH:MM")
	ErrMalformedClock         = errors.New("malformed clock time, expected HH:MM")
	ErrPastDate               = errors.New("cannot book a past date, select today or a future date")
	ErrBookingHorizonExceeded = errors.New("cannot book more than the booking horizon ahead")
	ErrInsufficientBuffer     = errors.New("same-day slot starts too soon")
)

// BufferError reports a same-day booking that does not leave enough lead time.
// It matches ErrInsufficientBuffer with errors.Is.
type BufferError struct {
	Now      time.Time
	TimeSlot string
	Buffer   time.Duration
}

func (e *BufferError) Error() string {
	return fmt.Sprintf(
		"same-day bookings need at least %s between now and the slot start: current time %s, selected slot %s",
		formatBuffer(e.Buffer), e.Now.Format("3:04 PM"), e.TimeSlot,
	)
}

func (e *BufferError) Is(target error) bool {
	return target == ErrInsufficientBuffer
}

func formatBuffer(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
