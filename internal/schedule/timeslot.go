package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClock parses a 24-hour "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	if !allDigits(hh) || !allDigits(mm) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	return ClockTime(h*60 + m), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func MustParseClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant at which this clock time occurs on date's calendar day.
func (c ClockTime) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

// TimeSlot is the "HH:MM-HH:MM" key identifying a slot within a day.
type TimeSlot struct {
	Start ClockTime
	End   ClockTime
}

func ParseTimeSlot(s string) (TimeSlot, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrMalformedTimeSlot, s)
	}
	st, err := ParseClock(start)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrMalformedTimeSlot, s)
	}
	en, err := ParseClock(end)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrMalformedTimeSlot, s)
	}
	if en <= st {
		return TimeSlot{}, fmt.Errorf("%w: %q ends before it starts", ErrMalformedTimeSlot, s)
	}
	return TimeSlot{Start: st, End: en}, nil
}

func (ts TimeSlot) String() string {
	return ts.Start.String() + "-" + ts.End.String()
}

func (ts TimeSlot) Duration() time.Duration {
	return time.Duration(ts.End-ts.Start) * time.Minute
}

// Window returns the half-open [start, end) interval of the slot on date.
func (ts TimeSlot) Window(date time.Time) (time.Time, time.Time) {
	return ts.Start.On(date), ts.End.On(date)
}

// ParseWeekday accepts English day names ("Monday", "mon") case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) == 3 && strings.HasPrefix(full, name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
