package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/notify"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// memRepo is an in-memory Repository that enforces the single active
// appointment per slot the way the partial unique index does.
type memRepo struct {
	mu        sync.Mutex
	patients  map[uuid.UUID]Patient
	doctors   map[uuid.UUID]Doctor
	templates map[uuid.UUID]schedule.Template
	appts     map[uuid.UUID]*Appointment
	order     []uuid.UUID
	links     map[[2]uuid.UUID]bool
	events    []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:  make(map[uuid.UUID]Patient),
		doctors:   make(map[uuid.UUID]Doctor),
		templates: make(map[uuid.UUID]schedule.Template),
		appts:     make(map[uuid.UUID]*Appointment),
		links:     make(map[[2]uuid.UUID]bool),
	}
}

func (r *memRepo) GetAvailability(_ context.Context, doctorID uuid.UUID) (schedule.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(schedule.Template(nil), r.templates[doctorID]...), nil
}

func (r *memRepo) ReplaceAvailability(_ context.Context, doctorID uuid.UUID, tmpl schedule.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[doctorID] = append(schedule.Template(nil), tmpl...)
	return nil
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) filter(keep func(a *Appointment) bool) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, id := range r.order {
		if a := r.appts[id]; keep(a) {
			out = append(out, *a)
		}
	}
	return out
}

func (r *memRepo) ListAppointmentsForDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return r.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Date.Equal(date)
	}), nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	all := r.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memRepo) FindActiveAppointmentsForSlot(_ context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) ([]Appointment, error) {
	return r.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Date.Equal(date) && a.TimeSlot == timeSlot && a.Status.Active()
	}), nil
}

func (r *memRepo) CreatePendingAppointment(_ context.Context, in NewAppointment, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.DoctorID == in.DoctorID && a.Date.Equal(in.Date) && a.TimeSlot == in.TimeSlot && a.Status.Active() {
			return nil, errActiveSlotTaken
		}
	}
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		Date:            in.Date,
		TimeSlot:        in.TimeSlot,
		Status:          StatusPending,
		Reason:          in.Reason,
		StatusUpdatedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.appts[a.ID] = a
	r.order = append(r.order, a.ID)
	cp := *a
	return &cp, nil
}

func (r *memRepo) ApplyStatusChange(_ context.Context, id uuid.UUID, change StatusChange) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	allowed := false
	for _, s := range change.From {
		if a.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, ErrAppointmentNotFound
	}

	at := change.At
	a.Status = change.To
	a.StatusUpdatedAt = &at
	a.UpdatedAt = at
	switch change.To {
	case StatusConfirmed:
		a.ConfirmedAt = &at
		r.links[[2]uuid.UUID{a.DoctorID, a.PatientID}] = true
	case StatusRejected:
		a.RejectedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
	}
	if change.Note != "" {
		if a.Notes != "" {
			a.Notes += " "
		}
		a.Notes += change.Note
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAttachments(_ context.Context, id uuid.UUID, attachments []Attachment, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != StatusCompleted {
		return nil, ErrAppointmentNotFound
	}
	a.Attachments = attachments
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListPendingOnOrBefore(_ context.Context, date time.Time) ([]Appointment, error) {
	return r.filter(func(a *Appointment) bool {
		return a.Status == StatusPending && !a.Date.After(date)
	}), nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	notifier *recordingNotifier
	clock    *fakeClock
	doctor   uuid.UUID
	alice    uuid.UUID
	bob      uuid.UUID
}

// thursday is three days before monday, inside the booking horizon.
var thursday = time.Date(2024, 6, 13, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	f := &fixture{
		repo:     repo,
		notifier: &recordingNotifier{},
		clock:    &fakeClock{t: thursday},
		doctor:   uuid.New(),
		alice:    uuid.New(),
		bob:      uuid.New(),
	}
	repo.doctors[f.doctor] = Doctor{ID: f.doctor, Name: "Dr. Rao"}
	repo.patients[f.alice] = Patient{ID: f.alice, Name: "Alice"}
	repo.patients[f.bob] = Patient{ID: f.bob, Name: "Bob"}
	repo.templates[f.doctor] = schedule.Template{{
		Day:                 time.Monday,
		StartTime:           schedule.MustParseClock("09:00"),
		EndTime:             schedule.MustParseClock("10:00"),
		SlotDurationMinutes: 30,
		IsAvailable:         true,
	}}

	logger, _ := test.NewNullLogger()
	f.svc = NewService(repo, nil, f.notifier, config.Config{Location: time.UTC},
		WithClock(f.clock.Now),
		WithLogger(logger),
	)
	return f
}

func (f *fixture) book(t *testing.T, patient uuid.UUID, slot string) *Appointment {
	t.Helper()
	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient,
		DoctorID:  f.doctor,
		Date:      monday,
		TimeSlot:  slot,
		Reason:    "fever",
	})
	require.NoError(t, err)
	return appt
}

func statuses(av *Availability) map[string]SlotStatus {
	out := make(map[string]SlotStatus, len(av.Slots))
	for _, v := range av.Slots {
		out[v.Slot.Key()] = v.Status
	}
	return out
}

func TestBookAppointment_CreatesPending(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, f.alice, "09:00-09:30")

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, monday, appt.Date)
	assert.Equal(t, "09:00-09:30", appt.TimeSlot)
	assert.Equal(t, "fever", appt.Reason)
	assert.Equal(t, []notify.EventType{notify.EventBooked}, f.notifier.types())
	assert.Equal(t, []string{string(notify.EventBooked)}, f.repo.eventTypes())
}

func TestBookAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	ghost := uuid.New()

	tests := []struct {
		name string
		req  BookingRequest
		err  error
	}{
		{"past date", BookingRequest{f.alice, f.doctor, thursday.AddDate(0, 0, -1), "09:00-09:30", "x"}, schedule.ErrPastDate},
		{"beyond horizon", BookingRequest{f.alice, f.doctor, monday.AddDate(0, 0, 7), "09:00-09:30", "x"}, schedule.ErrBookingHorizonExceeded},
		{"malformed slot", BookingRequest{f.alice, f.doctor, monday, "9am", "x"}, schedule.ErrMalformedTimeSlot},
		{"missing reason", BookingRequest{f.alice, f.doctor, monday, "09:00-09:30", "  "}, ErrMissingReason},
		{"slot not offered", BookingRequest{f.alice, f.doctor, monday, "09:15-09:45", "x"}, ErrSlotNotOffered},
		{"wrong weekday", BookingRequest{f.alice, f.doctor, monday.AddDate(0, 0, 1), "09:00-09:30", "x"}, ErrSlotNotOffered},
		{"unknown patient", BookingRequest{ghost, f.doctor, monday, "09:00-09:30", "x"}, ErrPatientNotFound},
		{"unknown doctor", BookingRequest{f.alice, ghost, monday, "09:00-09:30", "x"}, ErrDoctorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.err)
		})
	}
	assert.Empty(t, f.notifier.types())
}

func TestBookAppointment_SameDayBuffer(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(monday.Add(8*time.Hour + 45*time.Minute))

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{f.alice, f.doctor, monday, "09:00-09:30", "x"})
	var bufErr *schedule.BufferError
	require.ErrorAs(t, err, &bufErr)
	assert.ErrorIs(t, err, schedule.ErrInsufficientBuffer)

	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{f.alice, f.doctor, monday, "09:30-10:00", "x"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
}

func TestBookAppointment_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)

	patients := make([]uuid.UUID, 20)
	for i := range patients {
		patients[i] = uuid.New()
		f.repo.patients[patients[i]] = Patient{ID: patients[i], Name: fmt.Sprintf("patient-%d", i)}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*Appointment
		raceLost int
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(p uuid.UUID) {
			defer wg.Done()
			<-start
			appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{p, f.doctor, monday, "09:00-09:30", "checkup"})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, appt)
			case errors.Is(err, ErrSlotRaceLost):
				var rl *SlotRaceLostError
				if errors.As(err, &rl) && !rl.Self {
					raceLost++
				}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, len(patients)-1, raceLost)

	_, err := f.svc.TransitionAppointment(context.Background(), winners[0].ID, f.doctor, RoleDoctor, ActionReject)
	require.NoError(t, err)

	again := f.book(t, f.bob, "09:00-09:30")
	assert.Equal(t, StatusPending, again.Status)
}

func TestBookAppointment_SamePatientTwice(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.alice, "09:00-09:30")

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{f.alice, f.doctor, monday, "09:00-09:30", "again"})
	var rl *SlotRaceLostError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.Self)

	_, err = f.svc.BookAppointment(context.Background(), BookingRequest{f.bob, f.doctor, monday, "09:00-09:30", "mine"})
	require.ErrorAs(t, err, &rl)
	assert.False(t, rl.Self)
}

func TestBookAppointment_RebookOwnConfirmedSlot(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "09:00-09:30")
	_, err := f.svc.TransitionAppointment(context.Background(), appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	_, err = f.svc.BookAppointment(context.Background(), BookingRequest{f.alice, f.doctor, monday, "09:00-09:30", "again"})
	var rl *SlotRaceLostError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.Self)

	_, err = f.svc.BookAppointment(context.Background(), BookingRequest{f.bob, f.doctor, monday, "09:00-09:30", "mine"})
	require.ErrorAs(t, err, &rl)
	assert.False(t, rl.Self)
}

func TestMondayScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, f.alice, "09:00-09:30")
	assert.Equal(t, StatusPending, appt.Status)

	av, err := f.svc.GetAvailableSlots(ctx, f.doctor, monday, PatientViewer(f.bob))
	require.NoError(t, err)
	assert.Equal(t, map[string]SlotStatus{
		"09:00-09:30": SlotReserved,
		"09:30-10:00": SlotAvailable,
	}, statuses(av))
	assert.Equal(t, 2, av.TotalSlots)
	assert.Equal(t, 1, av.BookedCount)

	av, err = f.svc.GetAvailableSlots(ctx, f.doctor, monday, PatientViewer(f.alice))
	require.NoError(t, err)
	assert.Equal(t, SlotYourPending, statuses(av)["09:00-09:30"])

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionReject)
	require.NoError(t, err)

	av, err = f.svc.GetAvailableSlots(ctx, f.doctor, monday, PatientViewer(f.bob))
	require.NoError(t, err)
	assert.Equal(t, map[string]SlotStatus{
		"09:00-09:30": SlotAvailable,
		"09:30-10:00": SlotAvailable,
	}, statuses(av))
}

func TestGetAvailableSlots_ConfirmedSlotDisappearsForPatients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, f.alice, "09:00-09:30")
	confirmed, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.True(t, f.repo.links[[2]uuid.UUID{f.doctor, f.alice}])

	av, err := f.svc.GetAvailableSlots(ctx, f.doctor, monday, PatientViewer(f.bob))
	require.NoError(t, err)
	require.Len(t, av.Slots, 1)
	assert.Equal(t, "09:30-10:00", av.Slots[0].Slot.Key())
	assert.Equal(t, 2, av.TotalSlots)
	assert.Equal(t, 1, av.ConfirmedCount)

	av, err = f.svc.GetAvailableSlots(ctx, f.doctor, monday, DoctorViewer(f.doctor))
	require.NoError(t, err)
	assert.Equal(t, SlotConfirmed, statuses(av)["09:00-09:30"])
}

func TestGetAvailableSlots_PatientOutsideWindow(t *testing.T) {
	f := newFixture(t)
	nextMonday := monday.AddDate(0, 0, 7)

	av, err := f.svc.GetAvailableSlots(context.Background(), f.doctor, nextMonday, PatientViewer(f.bob))
	require.NoError(t, err)
	require.Len(t, av.Slots, 2)
	for _, v := range av.Slots {
		assert.True(t, v.Disabled)
		assert.Equal(t, SlotDisabled, v.Status)
		assert.Equal(t, schedule.ErrBookingHorizonExceeded.Error(), v.Message)
	}

	av, err = f.svc.GetAvailableSlots(context.Background(), f.doctor, nextMonday, DoctorViewer(f.doctor))
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, av.Slots[0].Status)
}

func TestTransitionAppointment_ActorChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")

	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.alice, RolePatient, ActionConfirm)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, uuid.New(), RoleDoctor, ActionConfirm)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.TransitionAppointment(ctx, uuid.New(), f.doctor, RoleDoctor, ActionConfirm)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestTransitionAppointment_WindowGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")

	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionComplete)
	assert.ErrorIs(t, err, ErrWindowNotOpen)

	f.clock.Set(monday.Add(9*time.Hour + 10*time.Minute))
	done, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionComplete)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionPatientNotCome)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	assert.Equal(t, []notify.EventType{
		notify.EventBooked,
		notify.EventConfirmed,
		notify.EventCompleted,
	}, f.notifier.types())
}

func TestTransitionAppointment_ConfirmAfterStart(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "09:00-09:30")

	f.clock.Set(monday.Add(9*time.Hour + time.Minute))
	_, err := f.svc.TransitionAppointment(context.Background(), appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestTransitionAppointment_NoShowAppendsNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")
	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	f.clock.Set(monday.Add(9*time.Hour + 20*time.Minute))
	updated, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionPatientNotCome)
	require.NoError(t, err)
	assert.Equal(t, StatusPatientNotCome, updated.Status)
	assert.Contains(t, updated.Notes, notePatientNotCome)
}

func TestCancelAppointment_TombstoneFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")
	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.CancelAppointment(ctx, appt.ID, f.bob), ErrForbidden)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID, f.alice))

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)

	require.NoError(t, f.svc.CancelAppointment(ctx, appt.ID, f.alice), "cancelling twice is a no-op")

	rebooked := f.book(t, f.bob, "09:00-09:30")
	assert.Equal(t, StatusPending, rebooked.Status)

	cancelled := 0
	for _, typ := range f.notifier.types() {
		if typ == notify.EventCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestSetDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")
	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	_, err = f.svc.SetDocuments(ctx, appt.ID, f.doctor, notify.DocumentPrescription, []string{"https://files/rx.pdf"})
	assert.ErrorIs(t, err, ErrNotYetCompleted)

	f.clock.Set(monday.Add(9*time.Hour + 5*time.Minute))
	_, err = f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionComplete)
	require.NoError(t, err)

	_, err = f.svc.SetDocuments(ctx, appt.ID, uuid.New(), notify.DocumentPrescription, []string{"https://files/rx.pdf"})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.SetDocuments(ctx, appt.ID, f.doctor, notify.DocumentPrescription, []string{"https://files/rx.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []Attachment{{Kind: notify.DocumentPrescription, URL: "https://files/rx.pdf"}}, updated.Attachments)

	f.notifier.mu.Lock()
	last := f.notifier.events[len(f.notifier.events)-1]
	f.notifier.mu.Unlock()
	assert.Equal(t, notify.EventDocumentAdded, last.Type)
	assert.Equal(t, notify.DocumentPrescription, last.Document)
}

func TestReconcileExpired_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.book(t, f.alice, "09:00-09:30")
	second := f.book(t, f.bob, "09:30-10:00")

	f.clock.Set(monday.Add(9*time.Hour + time.Minute))

	appts, err := f.repo.ListAppointmentsForDoctorDate(ctx, f.doctor, monday)
	require.NoError(t, err)
	stale := append([]Appointment(nil), appts...)

	mutated := f.svc.ReconcileExpired(ctx, appts)
	require.Len(t, mutated, 1)
	assert.Equal(t, first.ID, mutated[0].ID)
	assert.Equal(t, StatusRejected, mutated[0].Status)
	assert.Contains(t, mutated[0].Notes, noteAutoRejected)
	assert.Equal(t, StatusRejected, appts[0].Status, "records are updated in place")
	assert.Equal(t, StatusPending, appts[1].Status)

	assert.Empty(t, f.svc.ReconcileExpired(ctx, appts))
	assert.Empty(t, f.svc.ReconcileExpired(ctx, stale), "a stale copy loses the conditional update")

	stored, err := f.repo.GetAppointmentByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Contains(t, f.repo.eventTypes(), eventAutoRejected)
}

func TestListDoctorAppointments_ReconcilesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.alice, "09:00-09:30")
	f.book(t, f.bob, "09:30-10:00")

	f.clock.Set(monday.Add(9*time.Hour + 31*time.Minute))
	list, err := f.svc.ListDoctorAppointments(ctx, f.doctor, monday)
	require.NoError(t, err)
	assert.Len(t, list.AutoRejected, 2)
	for _, a := range list.Appointments {
		assert.Equal(t, StatusRejected, a.Status)
	}

	list, err = f.svc.ListPatientAppointments(ctx, f.alice, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list.Appointments, 1)
	assert.Empty(t, list.AutoRejected)
}

func TestExpirePendingAppointments(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.alice, "09:00-09:30")

	n, err := f.svc.ExpirePendingAppointments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(monday.Add(12 * time.Hour))
	n, err = f.svc.ExpirePendingAppointments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDoctorDayStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.alice, "09:00-09:30")
	_, err := f.svc.TransitionAppointment(ctx, appt.ID, f.doctor, RoleDoctor, ActionConfirm)
	require.NoError(t, err)

	stats, err := f.svc.DoctorDayStats(ctx, f.doctor, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusConfirmed])
	assert.Equal(t, 1, stats.UniquePatients)
	assert.Equal(t, 1, stats.FreeSlots)
}

func TestUpdateAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := schedule.Template{{
		Day:                 time.Monday,
		StartTime:           schedule.MustParseClock("14:00"),
		EndTime:             schedule.MustParseClock("15:00"),
		SlotDurationMinutes: 20,
		IsAvailable:         true,
	}}
	require.NoError(t, f.svc.UpdateAvailability(ctx, f.doctor, tmpl))

	got, err := f.svc.GetAvailability(ctx, f.doctor)
	require.NoError(t, err)
	assert.Equal(t, tmpl, got)

	av, err := f.svc.GetAvailableSlots(ctx, f.doctor, monday, PatientViewer(f.alice))
	require.NoError(t, err)
	assert.Equal(t, 3, av.TotalSlots)

	bad := schedule.Template{{Day: time.Weekday(9), SlotDurationMinutes: 30}}
	assert.ErrorIs(t, f.svc.UpdateAvailability(ctx, f.doctor, bad), schedule.ErrInvalidConfiguration)
	assert.ErrorIs(t, f.svc.UpdateAvailability(ctx, uuid.New(), tmpl), ErrDoctorNotFound)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	appt := f.book(t, f.alice, "09:00-09:30")
	assert.Equal(t, StatusPending, appt.Status)
}

func TestGetAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.alice, "09:00-09:30")

	detail, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", detail.Patient.Name)
	assert.Equal(t, "Dr. Rao", detail.Doctor.Name)
	assert.Equal(t, appt.ID, detail.ID)
}
