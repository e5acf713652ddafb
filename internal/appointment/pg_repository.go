package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db  DB
	loc *time.Location
}

// NewPgRepository stores calendar dates as DATE and reads them back as
// midnight in loc.
func NewPgRepository(db DB, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{db: db, loc: loc}
}

const uniqueViolation = "23505"

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, time_slot, status, reason, notes, disease, summary,
		       attachments, status_updated_at, confirmed_at, rejected_at, cancelled_at, created_at, updated_at`

// Helpers

func dateParam(d time.Time) string {
	return d.Format("2006-01-02")
}

func (r *PgRepository) localDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func (r *PgRepository) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var attachments []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&date,
		&a.TimeSlot,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.Disease,
		&a.Summary,
		&attachments,
		&a.StatusUpdatedAt,
		&a.ConfirmedAt,
		&a.RejectedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = r.localDate(date)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &a.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (r *PgRepository) collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAvailability(ctx context.Context, doctorID uuid.UUID) (schedule.Template, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day_of_week, start_time, end_time, slot_duration_minutes, is_available
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY position
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	var tmpl schedule.Template
	for rows.Next() {
		var (
			day        int
			start, end string
			e          schedule.AvailabilityEntry
		)
		if err := rows.Scan(&day, &start, &end, &e.SlotDurationMinutes, &e.IsAvailable); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		e.Day = time.Weekday(day)
		if e.StartTime, err = schedule.ParseClock(start); err != nil {
			return nil, fmt.Errorf("availability start of doctor %s: %w", doctorID, err)
		}
		if e.EndTime, err = schedule.ParseClock(end); err != nil {
			return nil, fmt.Errorf("availability end of doctor %s: %w", doctorID, err)
		}
		tmpl = append(tmpl, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tmpl, nil
}

func (r *PgRepository) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, tmpl schedule.Template) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace availability: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}

	for i, e := range tmpl {
		_, err := tx.Exec(ctx, `
			INSERT INTO doctor_availability (doctor_id, position, day_of_week, start_time, end_time, slot_duration_minutes, is_available)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, doctorID, i, int(e.Day), e.StartTime.String(), e.EndTime.String(), e.SlotDurationMinutes, e.IsAvailable)
		if err != nil {
			return fmt.Errorf("insert availability entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit availability: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return r.scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		ORDER BY time_slot, created_at
	`, doctorID, dateParam(date))
	if err != nil {
		return nil, err
	}
	return r.collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, time_slot DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.collectAppointments(rows)
}

func (r *PgRepository) FindActiveAppointmentsForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, timeSlot string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND time_slot = $3
		  AND status IN ('pending', 'confirmed')
	`, doctorID, dateParam(date), timeSlot)
	if err != nil {
		return nil, err
	}
	return r.collectAppointments(rows)
}

// CreatePendingAppointment relies on the partial unique index
// appointments_active_slot_key; a conflicting active row makes the insert a
// no-op, which is reported as errActiveSlotTaken.
func (r *PgRepository) CreatePendingAppointment(ctx context.Context, in NewAppointment, now time.Time) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, time_slot, status, reason,
		                          status_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $7, $7)
		ON CONFLICT (doctor_id, appointment_date, time_slot) WHERE status IN ('pending', 'confirmed')
		DO NOTHING
		RETURNING `+appointmentColumns+`
	`, id, in.PatientID, in.DoctorID, dateParam(in.Date), in.TimeSlot, in.Reason, now)

	appt, err := r.scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, ErrAppointmentNotFound) || (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) {
			return nil, errActiveSlotTaken
		}
		return nil, err
	}
	return appt, nil
}

const updateStatusSQL = `
		UPDATE appointments
		SET status = $2,
		    status_updated_at = $3,
		    confirmed_at = COALESCE($4, confirmed_at),
		    rejected_at = COALESCE($5, rejected_at),
		    cancelled_at = COALESCE($6, cancelled_at),
		    notes = CASE WHEN $7 = '' THEN notes ELSE ltrim(notes || ' ' || $7) END,
		    updated_at = $3
		WHERE id = $1
		  AND status = ANY($8)
		RETURNING ` + appointmentColumns

func statusChangeArgs(id uuid.UUID, change StatusChange) []any {
	var confirmedAt, rejectedAt, cancelledAt *time.Time
	at := change.At
	switch change.To {
	case StatusConfirmed:
		confirmedAt = &at
	case StatusRejected:
		rejectedAt = &at
	case StatusCancelled:
		cancelledAt = &at
	}

	from := make([]string, 0, len(change.From))
	for _, s := range change.From {
		from = append(from, string(s))
	}

	return []any{id, string(change.To), at, confirmedAt, rejectedAt, cancelledAt, change.Note, from}
}

func (r *PgRepository) ApplyStatusChange(ctx context.Context, id uuid.UUID, change StatusChange) (*Appointment, error) {
	args := statusChangeArgs(id, change)

	if change.To != StatusConfirmed {
		return r.scanAppointment(r.db.QueryRow(ctx, updateStatusSQL, args...))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := r.scanAppointment(tx.QueryRow(ctx, updateStatusSQL, args...))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO doctor_patients (doctor_id, patient_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, patient_id) DO NOTHING
	`, appt.DoctorID, appt.PatientID, change.At); err != nil {
		return nil, fmt.Errorf("link doctor and patient: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit confirm: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) UpdateAttachments(ctx context.Context, id uuid.UUID, attachments []Attachment, at time.Time) (*Appointment, error) {
	if attachments == nil {
		attachments = []Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET attachments = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'completed'
		RETURNING `+appointmentColumns, id, data, at)
	return r.scanAppointment(row)
}

func (r *PgRepository) ListPendingOnOrBefore(ctx context.Context, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND appointment_date <= $1
		ORDER BY appointment_date, time_slot
	`, dateParam(date))
	if err != nil {
		return nil, err
	}
	return r.collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
