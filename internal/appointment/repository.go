package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// AvailabilityStore holds doctors' weekly templates.
type AvailabilityStore interface {
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error)
	ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	AvailabilityStore

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// For conflict checks
	FindActiveAppointmentsForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) ([]Appointment, error)

	// CreatePendingAppointment inserts atomically unless another active
	// appointment holds the slot, in which case it returns errActiveSlotTaken.
	CreatePendingAppointment(ctx context.Context, in NewAppointment, now time.Time) (*Appointment, error)
	// ApplyStatusChange returns ErrAppointmentNotFound when the appointment
	// does not exist or is no longer in one of change.From. Confirming also
	// links doctor and patient rosters in the same transaction.
	ApplyStatusChange(ctx context.Context, id uuid.UUID, change StatusChange) (*Appointment, error)
	// UpdateAttachments only applies to completed appointments.
	UpdateAttachments(ctx context.Context, id uuid.UUID, attachments []Attachment, at time.Time) (*Appointment, error)

	// Expiry worker
	ListPendingOnOrBefore(ctx context.Context, date time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
