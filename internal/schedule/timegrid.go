package schedule

import (
	"errors"
	"fmt"
	"time"
)

// AvailabilityEntry is one recurring weekly window of a doctor's template.
type AvailabilityEntry struct {
	Day                 time.Weekday `json:"day"`
	StartTime           ClockTime    `json:"start_time"`
	EndTime             ClockTime    `json:"end_time"`
	SlotDurationMinutes int          `json:"slot_duration_minutes"`
	IsAvailable         bool         `json:"is_available"`
}

// Template is a doctor's weekly availability, replaced wholesale on update.
// Overlapping entries on the same day are not rejected.
type Template []AvailabilityEntry

// Slot is a concrete bookable interval [Start, End) on Date.
type Slot struct {
	Date            time.Time
	Start           ClockTime
	End             ClockTime
	DurationMinutes int
	Day             time.Weekday
}

func (s Slot) TimeSlot() TimeSlot {
	return TimeSlot{Start: s.Start, End: s.End}
}

// Key is the "HH:MM-HH:MM" identity of the slot within its date.
func (s Slot) Key() string {
	return s.TimeSlot().String()
}

func (s Slot) StartsAt() time.Time {
	return s.Start.On(s.Date)
}

func (s Slot) EndsAt() time.Time {
	return s.End.On(s.Date)
}

// StartOfDay truncates t to midnight in t's own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SlotsForEntry walks the entry's [start, end) range in slot-duration steps.
// A trailing partial slot is dropped.
func SlotsForEntry(entry AvailabilityEntry, date time.Time) ([]Slot, error) {
	if entry.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %s %s-%s has slot duration %d",
			ErrInvalidConfiguration, entry.Day, entry.StartTime, entry.EndTime, entry.SlotDurationMinutes)
	}

	day := StartOfDay(date)
	step := ClockTime(entry.SlotDurationMinutes)

	var slots []Slot
	for cur := entry.StartTime; cur+step <= entry.EndTime && cur+step <= minutesPerDay; cur += step {
		slots = append(slots, Slot{
			Date:            day,
			Start:           cur,
			End:             cur + step,
			DurationMinutes: entry.SlotDurationMinutes,
			Day:             entry.Day,
		})
	}
	return slots, nil
}

// SlotsForDate expands every available entry for date's weekday, in template
// order. Entries with an invalid configuration are skipped and reported
// through the returned error while the remaining slots are still returned.
func SlotsForDate(tmpl Template, date time.Time) ([]Slot, error) {
	weekday := date.Weekday()

	var (
		slots []Slot
		errs  []error
	)
	for _, entry := range tmpl {
		if entry.Day != weekday || !entry.IsAvailable {
			continue
		}
		entrySlots, err := SlotsForEntry(entry, date)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slots = append(slots, entrySlots...)
	}
	return slots, errors.Join(errs...)
}

// FindSlot returns the slot whose key equals timeSlot.
func FindSlot(slots []Slot, timeSlot string) (Slot, bool) {
	for _, s := range slots {
		if s.Key() == timeSlot {
			return s, true
		}
	}
	return Slot{}, false
}
