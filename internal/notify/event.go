package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBooked         EventType = "appointment.booked"
	EventConfirmed      EventType = "appointment.confirmed"
	EventRejected       EventType = "appointment.rejected"
	EventCancelled      EventType = "appointment.cancelled"
	EventPatientNotCome EventType = "appointment.patient_not_come"
	EventCompleted      EventType = "appointment.completed"
	EventDocumentAdded  EventType = "appointment.document_added"
)

// DocumentKind is the closed set of documents a doctor can attach to a
// completed appointment. Notification templates are selected by it.
type DocumentKind string

const (
	DocumentPrescription DocumentKind = "prescription"
	DocumentReport       DocumentKind = "report"
	DocumentBill         DocumentKind = "bill"
)

func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentPrescription, DocumentReport, DocumentBill:
		return true
	}
	return false
}

// Event asks the notification collaborator to tell the parties about a change
// to an appointment.
type Event struct {
	Type          EventType    `json:"type"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
	PatientID     uuid.UUID    `json:"patient_id"`
	DoctorID      uuid.UUID    `json:"doctor_id"`
	Status        string       `json:"status"`
	Document      DocumentKind `json:"document,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Publisher hands an event to one delivery transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
