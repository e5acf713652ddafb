package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/notify"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// Identity is established by the gateway in front of this service, which
// forwards it in these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

var errMissingActor = errors.New("missing or invalid actor headers")

// Scheduler is the booking engine as seen by the HTTP layer.
type Scheduler interface {
	GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, viewer appointment.Viewer) (*appointment.Availability, error)
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error)
	UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error
	BookAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	TransitionAppointment(ctx context.Context, id, actorID uuid.UUID, role appointment.Role, action appointment.Action) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id, actorID uuid.UUID) error
	SetDocuments(ctx context.Context, id, actorID uuid.UUID, kind notify.DocumentKind, urls []string) (*appointment.Appointment, error)
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) (*appointment.AppointmentList, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) (*appointment.AppointmentList, error)
	DoctorDayStats(ctx context.Context, doctorID uuid.UUID, date time.Time) (*appointment.DayStats, error)
}

type handlers struct {
	svc      Scheduler
	validate *validator.Validate
	loc      *time.Location
	logger   *logrus.Logger
}

type actor struct {
	ID   uuid.UUID
	Role appointment.Role
}

func actorFrom(r *http.Request) (actor, error) {
	id, err := uuid.Parse(r.Header.Get(HeaderActorID))
	if err != nil {
		return actor{}, errMissingActor
	}
	switch role := appointment.Role(r.Header.Get(HeaderActorRole)); role {
	case appointment.RolePatient, appointment.RoleDoctor:
		return actor{ID: id, Role: role}, nil
	}
	return actor{}, errMissingActor
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (h *handlers) dateQuery(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Time{}, fmt.Errorf("date query parameter is required")
	}
	return time.ParseInLocation(dateLayout, raw, h.loc)
}

func (h *handlers) getSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}
	date, err := h.dateQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	// Only the doctor who owns the calendar sees confirmed slots. Everyone
	// else, anonymous callers included, gets the patient view.
	viewer := appointment.PatientViewer(uuid.Nil)
	if a, err := actorFrom(r); err == nil {
		switch {
		case a.Role == appointment.RoleDoctor && a.ID == doctorID:
			viewer = appointment.DoctorViewer(a.ID)
		case a.Role == appointment.RolePatient:
			viewer = appointment.PatientViewer(a.ID)
		}
	}

	av, err := h.svc.GetAvailableSlots(r.Context(), doctorID, date, viewer)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotsResponse(av))
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}

	tmpl, err := h.svc.GetAvailability(r.Context(), doctorID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateResponse(doctorID, tmpl))
}

func (h *handlers) putAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}
	a, err := actorFrom(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if a.Role != appointment.RoleDoctor || a.ID != doctorID {
		h.handleError(w, r, appointment.ErrForbidden)
		return
	}

	var req UpdateAvailabilityRequest
	if err := decodeAndValidate(h.validate, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	tmpl, err := req.toTemplate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	if err := h.svc.UpdateAvailability(r.Context(), doctorID, tmpl); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateResponse(doctorID, tmpl))
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := actorFrom(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if a.Role != appointment.RolePatient {
		h.handleError(w, r, appointment.ErrForbidden)
		return
	}

	var req CreateAppointmentRequest
	if err := decodeAndValidate(h.validate, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	// Both already validated.
	doctorID, _ := uuid.Parse(req.DoctorID)
	date, _ := time.ParseInLocation(dateLayout, req.Date, h.loc)

	appt, err := h.svc.BookAppointment(r.Context(), appointment.BookingRequest{
		PatientID: a.ID,
		DoctorID:  doctorID,
		Date:      date,
		TimeSlot:  req.TimeSlot,
		Reason:    req.Reason,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	detail, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(detail.Appointment)}
	if detail.Patient != nil {
		resp.Patient = PartyResponse{ID: detail.Patient.ID, Name: detail.Patient.Name}
	}
	if detail.Doctor != nil {
		resp.Doctor = PartyResponse{ID: detail.Doctor.ID, Name: detail.Doctor.Name}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) transitionAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	a, err := actorFrom(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var req TransitionRequest
	if err := decodeAndValidate(h.validate, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	appt, err := h.svc.TransitionAppointment(r.Context(), id, a.ID, a.Role, appointment.Action(req.Action))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	a, err := actorFrom(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if a.Role != appointment.RolePatient {
		h.handleError(w, r, appointment.ErrForbidden)
		return
	}

	if err := h.svc.CancelAppointment(r.Context(), id, a.ID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) putDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}
	a, err := actorFrom(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if a.Role != appointment.RoleDoctor {
		h.handleError(w, r, appointment.ErrForbidden)
		return
	}

	var req DocumentsRequest
	if err := decodeAndValidate(h.validate, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	appt, err := h.svc.SetDocuments(r.Context(), id, a.ID, notify.DocumentKind(req.Kind), req.URLs)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) listDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}
	date, err := h.dateQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	list, err := h.svc.ListDoctorAppointments(r.Context(), doctorID, date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
		return
	}

	// Parse pagination params
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			offset = n
		}
	}

	list, err := h.svc.ListPatientAppointments(r.Context(), patientID, limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *handlers) doctorStats(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
		return
	}
	date, err := h.dateQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	stats, err := h.svc.DoctorDayStats(r.Context(), doctorID, date)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, DayStatsResponse{
		DoctorID:       doctorID,
		Date:           stats.Date.Format(dateLayout),
		Total:          stats.Total,
		ByStatus:       byStatus,
		UniquePatients: stats.UniquePatients,
		FreeSlots:      stats.FreeSlots,
		AutoRejected:   stats.AutoRejected,
	})
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var raceLost *appointment.SlotRaceLostError

	switch {
	case errors.Is(err, errInvalidBody):
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
	case errors.Is(err, errMissingActor):
		writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
	case errors.Is(err, schedule.ErrMalformedTimeSlot),
		errors.Is(err, schedule.ErrMalformedClock):
		writeError(w, http.StatusBadRequest, "malformed_time_slot", err.Error())
	case errors.Is(err, schedule.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
	case errors.Is(err, appointment.ErrMissingReason):
		writeError(w, http.StatusBadRequest, "missing_reason", err.Error())
	case errors.Is(err, appointment.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
	case errors.Is(err, appointment.ErrUnknownDocumentKind):
		writeError(w, http.StatusBadRequest, "unknown_document_kind", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
	case errors.Is(err, schedule.ErrBookingHorizonExceeded):
		writeError(w, http.StatusUnprocessableEntity, "booking_horizon_exceeded", err.Error())
	case errors.Is(err, schedule.ErrInsufficientBuffer):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_buffer", err.Error())
	case errors.Is(err, appointment.ErrSlotNotOffered):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_offered", err.Error())
	case errors.As(err, &raceLost) && raceLost.Self:
		writeError(w, http.StatusConflict, "slot_already_requested", err.Error())
	case errors.Is(err, appointment.ErrSlotRaceLost):
		writeError(w, http.StatusConflict, "slot_race_lost", err.Error())
	case errors.Is(err, appointment.ErrWindowClosed):
		writeError(w, http.StatusConflict, "window_closed", err.Error())
	case errors.Is(err, appointment.ErrWindowNotOpen):
		writeError(w, http.StatusConflict, "window_not_open", err.Error())
	case errors.Is(err, appointment.ErrNotYetCompleted):
		writeError(w, http.StatusConflict, "not_yet_completed", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		h.logger.WithError(err).WithField("request_id", GetRequestID(r.Context())).Error("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
