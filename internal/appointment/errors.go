package appointment

import (
	"errors"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotNotOffered          = errors.New("doctor does not offer this time slot on that date")
	ErrMissingReason           = errors.New("a reason for the visit is required")
	ErrSlotRaceLost            = errors.New("time slot is no longer available")
	ErrWindowClosed            = errors.New("appointment time has already passed")
	ErrWindowNotOpen           = errors.New("appointment can only be updated during its scheduled time")
	ErrNotYetCompleted         = errors.New("appointment must be completed first")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrForbidden               = errors.New("actor is not allowed to change this appointment")
	ErrUnknownAction           = errors.New("unknown appointment action")
	ErrUnknownDocumentKind     = errors.New("unknown document kind")

	// errActiveSlotTaken is returned by repositories when the conditional
	// insert finds another active appointment on the slot.
	errActiveSlotTaken = errors.New("active appointment already exists for slot")
)

// SlotRaceLostError reports a booking that lost its slot. Self is set when
// the conflicting active appointment belongs to the same patient.
type SlotRaceLostError struct {
	Self bool
}

func (e *SlotRaceLostError) Error() string {
	if e.Self {
		return "you have already booked this time slot"
	}
	return "this time slot was just booked by another patient, please choose another"
}

func (e *SlotRaceLostError) Is(target error) bool {
	return target == ErrSlotRaceLost
}
