package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

const eventAutoRejected = "appointment.auto_rejected"

// Notifier delivers lifecycle events. Failures never undo a transition.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

type Service struct {
	repo      Repository
	templates AvailabilityStore
	locker    redisclient.Locker
	notifier  Notifier
	resolver  *SlotResolver
	policy    schedule.Policy
	metrics   *metrics.BookingMetrics
	logger    *logrus.Logger
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAvailabilityStore reads templates through store instead of the
// repository, e.g. a Redis cache.
func WithAvailabilityStore(store AvailabilityStore) Option {
	return func(s *Service) { s.templates = store }
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, opts ...Option) *Service {
	policy := schedule.DefaultPolicy()
	if cfg.HorizonDays > 0 {
		policy.HorizonDays = cfg.HorizonDays
	}
	if cfg.SameDayBuffer > 0 {
		policy.SameDayBuffer = cfg.SameDayBuffer
	}

	s := &Service{
		repo:      repo,
		templates: repo,
		locker:    locker,
		notifier:  notifier,
		policy:    policy,
		logger:    logrus.StandardLogger(),
		loc:       cfg.Location,
		now:       time.Now,
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewSlotResolver(s.policy, s.logger, s.metrics)

	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// dayOf pins a calendar date to midnight in the clinic time zone.
func (s *Service) dayOf(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) loadDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return d, nil
}

func (s *Service) loadPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetPatientByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return p, nil
}

func (s *Service) loadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

// slotsFor expands the doctor's template for day. Misconfigured entries are
// logged and skipped so the rest of the calendar still renders.
func (s *Service) slotsFor(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]schedule.Slot, error) {
	tmpl, err := s.templates.GetAvailability(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	slots, cfgErr := schedule.SlotsForDate(tmpl, day)
	if cfgErr != nil {
		s.logger.WithError(cfgErr).WithField("doctor_id", doctorID).Warn("skipping invalid availability entries")
	}
	return slots, nil
}

// Availability is a resolved day of one doctor's calendar. Slots holds only
// the views visible to the viewer; the counts cover every generated slot.
type Availability struct {
	DoctorID uuid.UUID
	Date     time.Time
	Slots    []SlotView
	SlotSummary
}

func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, viewer Viewer) (*Availability, error) {
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	day := s.dayOf(date)
	slots, err := s.slotsFor(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	appts, err := s.repo.ListAppointmentsForDoctorDate(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	now := s.clock()
	views := s.resolver.Resolve(slots, appts, viewer, now)

	var dateErr error
	if viewer.Role == RolePatient {
		dateErr = s.policy.ValidateDate(day, now)
	}

	out := &Availability{DoctorID: doctorID, Date: day, SlotSummary: Summarize(views)}
	for _, v := range views {
		if !v.Visible {
			continue
		}
		if dateErr != nil {
			v.Status = SlotDisabled
			v.Disabled = true
			v.Message = dateErr.Error()
		}
		out.Slots = append(out.Slots, v)
	}
	return out, nil
}

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	TimeSlot  string
	Reason    string
}

// BookAppointment creates a pending appointment. The slot is re-checked inside
// the slot lock and the insert itself is conditional on no other active
// appointment holding the slot, so concurrent bookings cannot both succeed.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.book(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err))
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"patient_id": req.PatientID,
			"doctor_id":  req.DoctorID,
			"date":       req.Date.Format("2006-01-02"),
			"time_slot":  req.TimeSlot,
		}).WithError(err).Info("booking rejected")
	}
	return appt, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	now := s.clock()
	day := s.dayOf(req.Date)

	ts, err := schedule.ParseTimeSlot(req.TimeSlot)
	if err != nil {
		return nil, err
	}
	timeSlot := ts.String()

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrMissingReason
	}

	if err := s.policy.ValidateDate(day, now); err != nil {
		return nil, err
	}
	if err := s.policy.ValidateTimeBuffer(day, timeSlot, now); err != nil {
		return nil, err
	}

	if _, err := s.loadPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.loadDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	slots, err := s.slotsFor(ctx, req.DoctorID, day)
	if err != nil {
		return nil, err
	}
	slot, ok := schedule.FindSlot(slots, timeSlot)
	if !ok {
		return nil, ErrSlotNotOffered
	}

	existing, err := s.repo.ListAppointmentsForDoctorDate(ctx, req.DoctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	view := s.resolver.Resolve([]schedule.Slot{slot}, existing, PatientViewer(req.PatientID), now)[0]
	switch view.Status {
	case SlotYourPending:
		return nil, &SlotRaceLostError{Self: true}
	case SlotReserved, SlotConfirmed:
		for _, a := range existing {
			if a.TimeSlot == timeSlot && a.Status.Active() && a.PatientID == req.PatientID {
				return nil, &SlotRaceLostError{Self: true}
			}
		}
		return nil, &SlotRaceLostError{}
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, redisclient.SlotKey(req.DoctorID, day, timeSlot), func(lockCtx context.Context) error {
		appt, err := s.repo.CreatePendingAppointment(lockCtx, NewAppointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      day,
			TimeSlot:  timeSlot,
			Reason:    reason,
		}, now)
		if errors.Is(err, errActiveSlotTaken) {
			return s.raceLost(lockCtx, req.PatientID, req.DoctorID, day, timeSlot)
		}
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, &SlotRaceLostError{}
		}
		return nil, err
	}

	s.publish(ctx, notify.EventBooked, created, "")
	return created, nil
}

func (s *Service) raceLost(ctx context.Context, patientID, doctorID uuid.UUID, day time.Time, timeSlot string) error {
	active, err := s.repo.FindActiveAppointmentsForSlot(ctx, doctorID, day, timeSlot)
	if err != nil {
		s.logger.WithError(err).WithField("doctor_id", doctorID).Warn("could not load conflicting appointment")
		return &SlotRaceLostError{}
	}
	for _, a := range active {
		if a.PatientID == patientID {
			return &SlotRaceLostError{Self: true}
		}
	}
	return &SlotRaceLostError{}
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotRaceLost):
		return "slot_race_lost"
	case errors.Is(err, schedule.ErrPastDate), errors.Is(err, schedule.ErrBookingHorizonExceeded):
		return "outside_window"
	case errors.Is(err, schedule.ErrInsufficientBuffer):
		return "insufficient_buffer"
	case errors.Is(err, schedule.ErrMalformedTimeSlot), errors.Is(err, ErrSlotNotOffered),
		errors.Is(err, ErrMissingReason), errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDoctorNotFound):
		return "invalid_request"
	}
	return "error"
}

// TransitionAppointment applies a doctor action to an appointment.
func (s *Service) TransitionAppointment(ctx context.Context, id, actorID uuid.UUID, role Role, action Action) (*Appointment, error) {
	updated, err := s.transition(ctx, id, actorID, role, action)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.ObserveTransition(string(action), outcome)
	return updated, err
}

func (s *Service) transition(ctx context.Context, id, actorID uuid.UUID, role Role, action Action) (*Appointment, error) {
	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != RoleDoctor || appt.DoctorID != actorID {
		return nil, ErrForbidden
	}

	change, err := PlanTransition(*appt, action, s.clock())
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.ApplyStatusChange(ctx, id, change)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status moved underneath us (another doctor action or the expiry sweep).
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("%s appointment: %w", action, err)
	}

	s.logger.WithFields(logrus.Fields{
		"appointment_id": updated.ID,
		"action":         action,
		"status":         updated.Status,
	}).Info("appointment transitioned")

	s.publish(ctx, eventFor(updated.Status), updated, "")
	return updated, nil
}

// CancelAppointment lets the patient cancel at any time. The appointment is
// kept as a cancelled tombstone and stops occupying its slot.
func (s *Service) CancelAppointment(ctx context.Context, id, actorID uuid.UUID) error {
	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return err
	}
	if appt.PatientID != actorID {
		return ErrForbidden
	}

	change, ok := PlanCancellation(*appt, s.clock())
	if !ok {
		return nil
	}

	updated, err := s.repo.ApplyStatusChange(ctx, id, change)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		return fmt.Errorf("cancel appointment: %w", err)
	}

	s.metrics.ObserveTransition("cancel", "ok")
	s.publish(ctx, notify.EventCancelled, updated, "")
	return nil
}

// SetDocuments replaces the attachments of one kind on a completed appointment.
func (s *Service) SetDocuments(ctx context.Context, id, actorID uuid.UUID, kind notify.DocumentKind, urls []string) (*Appointment, error) {
	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID {
		return nil, ErrForbidden
	}
	if err := CheckDocuments(*appt, kind); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAttachments(ctx, id, ReplaceDocuments(appt.Attachments, kind, urls), s.clock())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrNotYetCompleted
		}
		return nil, fmt.Errorf("update attachments: %w", err)
	}

	s.publish(ctx, notify.EventDocumentAdded, updated, kind)
	return updated, nil
}

// ReconcileExpired rejects every pending appointment in appts whose slot has
// started. Updated records are written back into appts and returned. The
// update is conditional on the row still being pending, so repeated or
// concurrent sweeps are harmless.
func (s *Service) ReconcileExpired(ctx context.Context, appts []Appointment) []Appointment {
	now := s.clock()

	var mutated []Appointment
	for i := range appts {
		if !IsExpired(appts[i], now) {
			continue
		}

		updated, err := s.repo.ApplyStatusChange(ctx, appts[i].ID, expiryChange(now))
		if errors.Is(err, ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("appointment_id", appts[i].ID).Error("failed to auto-reject expired appointment")
			continue
		}

		appts[i] = *updated
		mutated = append(mutated, *updated)
		s.logEvent(ctx, updated.ID, eventAutoRejected, map[string]any{
			"reason":    "slot_started_without_response",
			"time_slot": updated.TimeSlot,
		})
	}

	s.metrics.AddAutoRejected(len(mutated))
	return mutated
}

// ExpirePendingAppointments is intended to be called by the worker periodically
func (s *Service) ExpirePendingAppointments(ctx context.Context) (int, error) {
	today := s.dayOf(s.clock())
	candidates, err := s.repo.ListPendingOnOrBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("find pending appointments: %w", err)
	}
	return len(s.ReconcileExpired(ctx, candidates)), nil
}

func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error) {
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	tmpl, err := s.templates.GetAvailability(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	return tmpl, nil
}

// UpdateAvailability replaces the doctor's template. Overlapping entries are
// accepted as given.
func (s *Service) UpdateAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error {
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return err
	}
	for i, e := range tmpl {
		if e.Day < time.Sunday || e.Day > time.Saturday {
			return fmt.Errorf("%w: entry %d has weekday %d", schedule.ErrInvalidConfiguration, i, e.Day)
		}
	}
	if err := s.templates.ReplaceAvailability(ctx, doctorID, tmpl); err != nil {
		return fmt.Errorf("replace availability: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"doctor_id": doctorID, "entries": len(tmpl)}).Info("availability replaced")
	return nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.loadDoctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *appt, Patient: patient, Doctor: doctor}, nil
}

// AppointmentList is a rendered list after the expiry sweep ran over it.
type AppointmentList struct {
	Appointments []Appointment
	AutoRejected []Appointment
}

func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) (*AppointmentList, error) {
	appts, err := s.repo.ListAppointmentsForDoctorDate(ctx, doctorID, s.dayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	rejected := s.ReconcileExpired(ctx, appts)
	return &AppointmentList{Appointments: appts, AutoRejected: rejected}, nil
}

// ListPatientAppointments retrieves appointments for a specific patient
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) (*AppointmentList, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	rejected := s.ReconcileExpired(ctx, appts)
	return &AppointmentList{Appointments: appts, AutoRejected: rejected}, nil
}

// DayStats backs the doctor dashboard.
type DayStats struct {
	Date           time.Time
	ByStatus       map[AppointmentStatus]int
	Total          int
	UniquePatients int
	FreeSlots      int
	AutoRejected   int
}

// DoctorDayStats counts a day's appointments by status and the slots that
// are still free: generated, unoccupied and not yet started.
func (s *Service) DoctorDayStats(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DayStats, error) {
	list, err := s.ListDoctorAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	day := s.dayOf(date)

	stats := &DayStats{
		Date:         day,
		ByStatus:     make(map[AppointmentStatus]int, len(allStatuses)),
		Total:        len(list.Appointments),
		AutoRejected: len(list.AutoRejected),
	}
	patients := make(map[uuid.UUID]struct{})
	occupied := make(map[string]bool)
	for _, a := range list.Appointments {
		stats.ByStatus[a.Status]++
		patients[a.PatientID] = struct{}{}
		if a.Status.Active() {
			occupied[a.TimeSlot] = true
		}
	}
	stats.UniquePatients = len(patients)

	slots, err := s.slotsFor(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	for _, slot := range slots {
		if !occupied[slot.Key()] && slot.StartsAt().After(now) {
			stats.FreeSlots++
		}
	}
	return stats, nil
}

func (s *Service) publish(ctx context.Context, eventType notify.EventType, appt *Appointment, doc notify.DocumentKind) {
	ev := notify.Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Status:        string(appt.Status),
		Document:      doc,
		OccurredAt:    s.clock(),
	}

	s.logEvent(ctx, appt.ID, string(eventType), map[string]any{
		"patient_id": appt.PatientID.String(),
		"doctor_id":  appt.DoctorID.String(),
		"date":       appt.Date.Format("2006-01-02"),
		"time_slot":  appt.TimeSlot,
		"status":     appt.Status,
		"document":   doc,
	})

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.metrics.ObserveNotificationFailure(string(eventType))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event":          eventType,
			"appointment_id": appt.ID,
		}).Warn("notification dispatch failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warnf("failed to marshal event payload for %s", eventType)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.WithError(err).Warnf("failed to insert event log %s for appointment %s", eventType, appointmentID)
	}
}
