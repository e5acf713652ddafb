package appointment

import (
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/notify"
)

const (
	notePatientNotCome = "[Patient did not show up for the appointment]"
	noteAutoRejected   = "[Auto-rejected: no response before slot start]"
)

// PlanTransition checks a doctor action against the appointment's status and
// time window and returns the conditional update to apply.
//
//	pending   --confirm-->          confirmed        (before slot start)
//	pending   --reject-->           rejected         (before slot start)
//	confirmed --complete-->         completed        (during the slot)
//	confirmed --patient_not_come--> patient_not_come (during the slot)
func PlanTransition(a Appointment, action Action, now time.Time) (StatusChange, error) {
	start, end, err := a.Window()
	if err != nil {
		return StatusChange{}, err
	}

	switch action {
	case ActionConfirm, ActionReject:
		if a.Status != StatusPending {
			return StatusChange{}, ErrInvalidStatusTransition
		}
		if now.After(start) {
			return StatusChange{}, ErrWindowClosed
		}
		to := StatusConfirmed
		if action == ActionReject {
			to = StatusRejected
		}
		return StatusChange{From: []AppointmentStatus{StatusPending}, To: to, At: now}, nil

	case ActionComplete, ActionPatientNotCome:
		if a.Status != StatusConfirmed {
			return StatusChange{}, ErrInvalidStatusTransition
		}
		if now.Before(start) || !now.Before(end) {
			return StatusChange{}, ErrWindowNotOpen
		}
		change := StatusChange{From: []AppointmentStatus{StatusConfirmed}, To: StatusCompleted, At: now}
		if action == ActionPatientNotCome {
			change.To = StatusPatientNotCome
			change.Note = notePatientNotCome
		}
		return change, nil
	}

	return StatusChange{}, ErrUnknownAction
}

// PlanCancellation moves any appointment to the cancelled tombstone. It is
// not time guarded. ok is false when the appointment is already cancelled.
func PlanCancellation(a Appointment, now time.Time) (change StatusChange, ok bool) {
	if a.Status == StatusCancelled {
		return StatusChange{}, false
	}
	from := make([]AppointmentStatus, 0, len(allStatuses)-1)
	for _, s := range allStatuses {
		if s != StatusCancelled {
			from = append(from, s)
		}
	}
	return StatusChange{From: from, To: StatusCancelled, At: now}, true
}

// CheckDocuments guards attaching prescriptions, reports and bills.
func CheckDocuments(a Appointment, kind notify.DocumentKind) error {
	if !kind.Valid() {
		return ErrUnknownDocumentKind
	}
	if a.Status != StatusCompleted {
		return ErrNotYetCompleted
	}
	return nil
}

// ReplaceDocuments swaps the attachments of one kind and keeps the others.
func ReplaceDocuments(existing []Attachment, kind notify.DocumentKind, urls []string) []Attachment {
	out := make([]Attachment, 0, len(existing)+len(urls))
	for _, att := range existing {
		if att.Kind != kind {
			out = append(out, att)
		}
	}
	for _, u := range urls {
		out = append(out, Attachment{Kind: kind, URL: u})
	}
	return out
}

func eventFor(status AppointmentStatus) notify.EventType {
	switch status {
	case StatusPending:
		return notify.EventBooked
	case StatusConfirmed:
		return notify.EventConfirmed
	case StatusRejected:
		return notify.EventRejected
	case StatusCancelled:
		return notify.EventCancelled
	case StatusPatientNotCome:
		return notify.EventPatientNotCome
	case StatusCompleted:
		return notify.EventCompleted
	}
	return ""
}
