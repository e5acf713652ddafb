package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotReserved    SlotStatus = "reserved"
	SlotYourPending SlotStatus = "your_pending"
	SlotConfirmed   SlotStatus = "confirmed"
	SlotDisabled    SlotStatus = "disabled"
)

const (
	msgAvailable    = "Available"
	msgReserved     = "Reserved by another patient"
	msgYourPending  = "You have a pending request for this slot"
	msgConfirmedDoc = "Booked"
)

// Viewer is who the slot list is rendered for. Patients never see confirmed
// slots; doctors see them as booked.
type Viewer struct {
	ID   uuid.UUID
	Role Role
}

func PatientViewer(id uuid.UUID) Viewer { return Viewer{ID: id, Role: RolePatient} }
func DoctorViewer(id uuid.UUID) Viewer  { return Viewer{ID: id, Role: RoleDoctor} }

type SlotView struct {
	Slot     schedule.Slot
	Status   SlotStatus
	Disabled bool
	Message  string
	Visible  bool
	// Occupied is set when an active appointment holds the slot, regardless
	// of any time-policy override of Status.
	Occupied bool
}

// Bookable reports whether a patient can request this slot right now.
func (v SlotView) Bookable() bool {
	return v.Visible && !v.Disabled
}

// SlotResolver classifies generated slots against appointment records.
type SlotResolver struct {
	policy  schedule.Policy
	logger  *logrus.Logger
	metrics *metrics.BookingMetrics
}

func NewSlotResolver(policy schedule.Policy, logger *logrus.Logger, m *metrics.BookingMetrics) *SlotResolver {
	return &SlotResolver{policy: policy, logger: logger, metrics: m}
}

// Resolve annotates every slot in order. Appointments are matched on
// TimeSlot only, so callers pass the records of one doctor and date.
func (r *SlotResolver) Resolve(slots []schedule.Slot, appts []Appointment, viewer Viewer, now time.Time) []SlotView {
	bySlot := make(map[string][]Appointment, len(appts))
	for _, a := range appts {
		bySlot[a.TimeSlot] = append(bySlot[a.TimeSlot], a)
	}

	views := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		views = append(views, r.resolveOne(s, bySlot[s.Key()], viewer, now))
	}
	return views
}

func (r *SlotResolver) resolveOne(s schedule.Slot, appts []Appointment, viewer Viewer, now time.Time) SlotView {
	var confirmed, pending []Appointment
	for _, a := range appts {
		switch a.Status {
		case StatusConfirmed:
			confirmed = append(confirmed, a)
		case StatusPending:
			pending = append(pending, a)
		}
	}
	if len(confirmed)+len(pending) > 1 {
		r.reportAnomaly(s, confirmed, pending)
	}

	view := SlotView{Slot: s, Status: SlotAvailable, Message: msgAvailable, Visible: true}

	switch {
	case len(confirmed) > 0:
		view.Occupied = true
		view.Status = SlotConfirmed
		view.Disabled = true
		view.Message = msgConfirmedDoc
		view.Visible = viewer.Role == RoleDoctor
		return view
	case len(pending) > 0:
		view.Occupied = true
		view.Status = SlotReserved
		view.Disabled = true
		view.Message = msgReserved
		if viewer.Role == RolePatient {
			for _, p := range pending {
				if p.PatientID == viewer.ID {
					view.Status = SlotYourPending
					view.Message = msgYourPending
					break
				}
			}
		}
	}

	if err := r.policy.CheckSlot(s, now); err != nil {
		view.Status = SlotDisabled
		view.Disabled = true
		view.Message = err.Error()
	}
	return view
}

func (r *SlotResolver) reportAnomaly(s schedule.Slot, confirmed, pending []Appointment) {
	r.metrics.ObserveSlotAnomaly()
	if r.logger == nil {
		return
	}
	ids := make([]string, 0, len(confirmed)+len(pending))
	for _, a := range append(append([]Appointment(nil), confirmed...), pending...) {
		ids = append(ids, a.ID.String())
	}
	r.logger.WithFields(logrus.Fields{
		"date":            s.Date.Format("2006-01-02"),
		"time_slot":       s.Key(),
		"confirmed_count": len(confirmed),
		"pending_count":   len(pending),
		"appointment_ids": ids,
	}).Warn("slot has more than one active appointment")
}

// SlotSummary counts a resolved day.
type SlotSummary struct {
	TotalSlots     int
	BookedCount    int
	ConfirmedCount int
}

func Summarize(views []SlotView) SlotSummary {
	sum := SlotSummary{TotalSlots: len(views)}
	for _, v := range views {
		if v.Occupied {
			sum.BookedCount++
		}
		if v.Status == SlotConfirmed {
			sum.ConfirmedCount++
		}
	}
	return sum
}
