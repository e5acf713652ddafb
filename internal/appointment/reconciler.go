package appointment

import "time"

// IsExpired reports a pending appointment whose slot has already started
// without a doctor response.
func IsExpired(a Appointment, now time.Time) bool {
	if a.Status != StatusPending {
		return false
	}
	start, _, err := a.Window()
	if err != nil {
		return false
	}
	return now.After(start)
}

func expiryChange(now time.Time) StatusChange {
	return StatusChange{
		From: []AppointmentStatus{StatusPending},
		To:   StatusRejected,
		At:   now,
		Note: noteAutoRejected,
	}
}

// Expired selects the appointments that IsExpired reports, in input order.
func Expired(appts []Appointment, now time.Time) []Appointment {
	var out []Appointment
	for _, a := range appts {
		if IsExpired(a, now) {
			out = append(out, a)
		}
	}
	return out
}
