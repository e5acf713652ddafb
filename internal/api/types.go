package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

const dateLayout = "2006-01-02"

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot string `json:"time_slot" validate:"required,timeslot"`
	Reason   string `json:"reason" validate:"required,max=1000"`
}

type TransitionRequest struct {
	Action string `json:"action" validate:"required,oneof=confirm reject complete patient_not_come"`
}

type DocumentsRequest struct {
	Kind string   `json:"kind" validate:"required,oneof=prescription report bill"`
	URLs []string `json:"urls" validate:"dive,required,url"`
}

type AvailabilityEntryRequest struct {
	Day                 string `json:"day" validate:"required,weekday"`
	StartTime           string `json:"start_time" validate:"required,hhmm"`
	EndTime             string `json:"end_time" validate:"required,hhmm"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" validate:"gt=0,lte=1440"`
	IsAvailable         *bool  `json:"is_available"`
}

type UpdateAvailabilityRequest struct {
	Entries []AvailabilityEntryRequest `json:"entries" validate:"dive"`
}

type AvailabilityEntryResponse struct {
	Day                 string `json:"day"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	IsAvailable         bool   `json:"is_available"`
}

type AvailabilityTemplateResponse struct {
	DoctorID uuid.UUID                   `json:"doctor_id"`
	Entries  []AvailabilityEntryResponse `json:"entries"`
}

type SlotResponse struct {
	TimeSlot        string `json:"time_slot"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Day             string `json:"day"`
	Status          string `json:"status"`
	Disabled        bool   `json:"disabled"`
	Message         string `json:"message"`
}

type SlotsResponse struct {
	DoctorID       uuid.UUID      `json:"doctor_id"`
	Date           string         `json:"date"`
	Slots          []SlotResponse `json:"slots"`
	TotalSlots     int            `json:"total_slots"`
	BookedCount    int            `json:"booked_count"`
	ConfirmedCount int            `json:"confirmed_count"`
}

type AttachmentResponse struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type AppointmentResponse struct {
	ID              uuid.UUID            `json:"id"`
	PatientID       uuid.UUID            `json:"patient_id"`
	DoctorID        uuid.UUID            `json:"doctor_id"`
	Date            string               `json:"date"`
	TimeSlot        string               `json:"time_slot"`
	Status          string               `json:"status"`
	Reason          string               `json:"reason"`
	Notes           string               `json:"notes,omitempty"`
	Disease         string               `json:"disease,omitempty"`
	Summary         string               `json:"summary,omitempty"`
	Attachments     []AttachmentResponse `json:"attachments"`
	StatusUpdatedAt *time.Time           `json:"status_updated_at,omitempty"`
	ConfirmedAt     *time.Time           `json:"confirmed_at,omitempty"`
	RejectedAt      *time.Time           `json:"rejected_at,omitempty"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type PartyResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Patient PartyResponse `json:"patient"`
	Doctor  PartyResponse `json:"doctor"`
}

type AppointmentListResponse struct {
	Appointments      []AppointmentResponse `json:"appointments"`
	AutoRejectedCount int                   `json:"auto_rejected_count"`
}

type DayStatsResponse struct {
	DoctorID       uuid.UUID      `json:"doctor_id"`
	Date           string         `json:"date"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	UniquePatients int            `json:"unique_patients"`
	FreeSlots      int            `json:"free_slots"`
	AutoRejected   int            `json:"auto_rejected"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	attachments := make([]AttachmentResponse, 0, len(a.Attachments))
	for _, att := range a.Attachments {
		attachments = append(attachments, AttachmentResponse{Kind: string(att.Kind), URL: att.URL})
	}
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Date:            a.Date.Format(dateLayout),
		TimeSlot:        a.TimeSlot,
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		Disease:         a.Disease,
		Summary:         a.Summary,
		Attachments:     attachments,
		StatusUpdatedAt: a.StatusUpdatedAt,
		ConfirmedAt:     a.ConfirmedAt,
		RejectedAt:      a.RejectedAt,
		CancelledAt:     a.CancelledAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentList(list *appointment.AppointmentList) AppointmentListResponse {
	resp := AppointmentListResponse{
		Appointments:      make([]AppointmentResponse, 0, len(list.Appointments)),
		AutoRejectedCount: len(list.AutoRejected),
	}
	for _, a := range list.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
	}
	return resp
}

func toSlotsResponse(av *appointment.Availability) SlotsResponse {
	resp := SlotsResponse{
		DoctorID:       av.DoctorID,
		Date:           av.Date.Format(dateLayout),
		Slots:          make([]SlotResponse, 0, len(av.Slots)),
		TotalSlots:     av.TotalSlots,
		BookedCount:    av.BookedCount,
		ConfirmedCount: av.ConfirmedCount,
	}
	for _, v := range av.Slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			TimeSlot:        v.Slot.Key(),
			StartTime:       v.Slot.Start.String(),
			EndTime:         v.Slot.End.String(),
			DurationMinutes: v.Slot.DurationMinutes,
			Day:             v.Slot.Day.String(),
			Status:          string(v.Status),
			Disabled:        v.Disabled,
			Message:         v.Message,
		})
	}
	return resp
}

func toTemplateResponse(doctorID uuid.UUID, tmpl schedule.Template) AvailabilityTemplateResponse {
	resp := AvailabilityTemplateResponse{DoctorID: doctorID, Entries: make([]AvailabilityEntryResponse, 0, len(tmpl))}
	for _, e := range tmpl {
		resp.Entries = append(resp.Entries, AvailabilityEntryResponse{
			Day:                 e.Day.String(),
			StartTime:           e.StartTime.String(),
			EndTime:             e.EndTime.String(),
			SlotDurationMinutes: e.SlotDurationMinutes,
			IsAvailable:         e.IsAvailable,
		})
	}
	return resp
}

// toTemplate converts an already validated request.
func (req UpdateAvailabilityRequest) toTemplate() (schedule.Template, error) {
	tmpl := make(schedule.Template, 0, len(req.Entries))
	for _, e := range req.Entries {
		day, err := schedule.ParseWeekday(e.Day)
		if err != nil {
			return nil, err
		}
		start, err := schedule.ParseClock(e.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := schedule.ParseClock(e.EndTime)
		if err != nil {
			return nil, err
		}
		available := true
		if e.IsAvailable != nil {
			available = *e.IsAvailable
		}
		tmpl = append(tmpl, schedule.AvailabilityEntry{
			Day:                 day,
			StartTime:           start,
			EndTime:             end,
			SlotDurationMinutes: e.SlotDurationMinutes,
			IsAvailable:         available,
		})
	}
	return tmpl, nil
}
