package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/notify"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending        AppointmentStatus = "pending"
	StatusConfirmed      AppointmentStatus = "confirmed"
	StatusRejected       AppointmentStatus = "rejected"
	StatusCancelled      AppointmentStatus = "cancelled"
	StatusCompleted      AppointmentStatus = "completed"
	StatusPatientNotCome AppointmentStatus = "patient_not_come"
)

var allStatuses = []AppointmentStatus{
	StatusPending,
	StatusConfirmed,
	StatusRejected,
	StatusCancelled,
	StatusCompleted,
	StatusPatientNotCome,
}

// Active statuses occupy their slot; at most one appointment per
// doctor/date/time slot may hold one.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

type Action string

const (
	ActionConfirm        Action = "confirm"
	ActionReject         Action = "reject"
	ActionComplete       Action = "complete"
	ActionPatientNotCome Action = "patient_not_come"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Attachment struct {
	Kind notify.DocumentKind `json:"kind"`
	URL  string              `json:"url"`
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Date            time.Time // midnight in the clinic time zone
	TimeSlot        string    // "HH:MM-HH:MM"
	Status          AppointmentStatus
	Reason          string
	Notes           string
	Disease         string
	Summary         string
	Attachments     []Attachment
	StatusUpdatedAt *time.Time
	ConfirmedAt     *time.Time
	RejectedAt      *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Window returns the appointment's [start, end) interval.
func (a Appointment) Window() (time.Time, time.Time, error) {
	ts, err := schedule.ParseTimeSlot(a.TimeSlot)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end := ts.Window(a.Date)
	return start, end, nil
}

type NewAppointment struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	TimeSlot  string
	Reason    string
}

// StatusChange is a conditional status update: it only applies while the
// appointment is in one of From.
type StatusChange struct {
	From []AppointmentStatus
	To   AppointmentStatus
	At   time.Time
	Note string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
}
