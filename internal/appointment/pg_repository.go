package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-scheduling/internal/schedule"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const appointmentColumns = `id, appointment_number, doctor_id, patient_id, appointment_date,
	start_minute, end_minute, status, appointment_type, mode, reason, symptoms, notes, fee,
	payment_status, cancelled_by, cancelled_at, cancellation_reason, refund_status,
	checked_in_at, created_at, updated_at`

// Helpers

func pgDate(d schedule.Date) time.Time {
	return d.Time(time.UTC)
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.ConsultationFee,
		&d.FollowUpFee,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
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

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                    Appointment
		date                 time.Time
		start, end           int
		cancelledBy          *uuid.UUID
		cancelledAt          *time.Time
		cancelReason, refund *string
	)

	err := row.Scan(
		&a.ID,
		&a.AppointmentNumber,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&start,
		&end,
		&a.Status,
		&a.Type,
		&a.Mode,
		&a.Reason,
		&a.Symptoms,
		&a.Notes,
		&a.Fee,
		&a.PaymentStatus,
		&cancelledBy,
		&cancelledAt,
		&cancelReason,
		&refund,
		&a.CheckedInAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = schedule.DateOf(date)
	a.TimeSlot = TimeSlot{StartTime: schedule.TimeOfDay(start), EndTime: schedule.TimeOfDay(end)}
	if cancelledAt != nil {
		c := &Cancellation{At: *cancelledAt}
		if cancelledBy != nil {
			c.By = *cancelledBy
		}
		if cancelReason != nil {
			c.Reason = *cancelReason
		}
		if refund != nil {
			c.RefundStatus = RefundStatus(*refund)
		}
		a.Cancellation = c
	}
	a.RescheduleHistory = []RescheduleEntry{}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
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

func scanOverride(row pgx.Row) (*schedule.Override, error) {
	var (
		ov     schedule.Override
		date   time.Time
		blocks []byte
	)
	err := row.Scan(&ov.DoctorID, &date, &ov.IsWorking, &ov.Reason, &blocks, &ov.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOverrideNotFound
		}
		return nil, err
	}
	ov.Date = schedule.DateOf(date)
	if err := json.Unmarshal(blocks, &ov.Blocks); err != nil {
		return nil, fmt.Errorf("decode override blocks: %w", err)
	}
	return &ov, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, specialization, consultation_fee, follow_up_fee, is_active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.Template, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.q.QueryRow(ctx, `
		SELECT days, updated_at
		FROM doctor_schedules
		WHERE doctor_id = $1
	`, doctorID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	var days []schedule.Day
	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, fmt.Errorf("decode schedule days: %w", err)
	}
	tpl := &schedule.Template{
		DoctorID:  doctorID,
		Days:      make(map[schedule.Weekday]schedule.Day, len(days)),
		UpdatedAt: updatedAt,
	}
	for _, d := range days {
		tpl.Days[d.Weekday] = d
	}
	return tpl, nil
}

func (r *PgRepository) SaveTemplate(ctx context.Context, tpl *schedule.Template) error {
	raw, err := json.Marshal(tpl.OrderedDays())
	if err != nil {
		return fmt.Errorf("encode schedule days: %w", err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO doctor_schedules (doctor_id, days, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id) DO UPDATE
		SET days = EXCLUDED.days,
		    updated_at = EXCLUDED.updated_at
	`, tpl.DoctorID, raw, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*schedule.Override, error) {
	row := r.q.QueryRow(ctx, `
		SELECT doctor_id, override_date, is_working, reason, blocks, updated_at
		FROM schedule_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, pgDate(date))
	return scanOverride(row)
}

func (r *PgRepository) UpsertOverride(ctx context.Context, ov *schedule.Override) error {
	blocks := ov.Blocks
	if blocks == nil {
		blocks = []schedule.Block{}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode override blocks: %w", err)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO schedule_overrides (doctor_id, override_date, is_working, reason, blocks, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, override_date) DO UPDATE
		SET is_working = EXCLUDED.is_working,
		    reason = EXCLUDED.reason,
		    blocks = EXCLUDED.blocks,
		    updated_at = EXCLUDED.updated_at
	`, ov.DoctorID, pgDate(ov.Date), ov.IsWorking, ov.Reason, raw, ov.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) error {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM schedule_overrides
		WHERE doctor_id = $1 AND override_date = $2
	`, doctorID, pgDate(date))
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

func (r *PgRepository) ListOverrides(ctx context.Context, doctorID uuid.UUID, from, to schedule.Date) ([]schedule.Override, error) {
	rows, err := r.q.Query(ctx, `
		SELECT doctor_id, override_date, is_working, reason, blocks, updated_at
		FROM schedule_overrides
		WHERE doctor_id = $1 AND override_date BETWEEN $2 AND $3
		ORDER BY override_date
	`, doctorID, pgDate(from), pgDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.Override
	for rows.Next() {
		ov, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ov)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status <> 'cancelled'
		ORDER BY start_minute, created_at
	`, doctorID, pgDate(date))
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) CountActiveAtSlot(ctx context.Context, key SlotKey, excludeID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND start_minute = $3
		  AND status <> 'cancelled'
		  AND id <> $4
	`, key.DoctorID, pgDate(key.Date), int(key.Start), excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slot bookings: %w", err)
	}
	return n, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Date != nil {
		add("appointment_date = $%d", pgDate(*f.Date))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := r.q.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListOpenThrough(ctx context.Context, through schedule.Date) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed', 'rescheduled')
		  AND appointment_date <= $1
		ORDER BY appointment_date, start_minute
	`, pgDate(through))
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PgRepository{pool: r.pool, q: tx, inTx: true})
	})
}

func (r *PgRepository) LockSlot(ctx context.Context, key SlotKey) error {
	if !r.inTx {
		return errors.New("LockSlot called outside a transaction")
	}
	// Transaction-scoped, released on commit or rollback.
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return fmt.Errorf("lock slot %s: %w", key, err)
	}
	return nil
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if !r.inTx {
		return nil, errors.New("LockAppointment called outside a transaction")
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	symptoms := a.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (
			id, appointment_number, doctor_id, patient_id, appointment_date,
			start_minute, end_minute, status, appointment_type, mode, reason, symptoms,
			notes, fee, payment_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		a.ID, a.AppointmentNumber, a.DoctorID, a.PatientID, pgDate(a.Date),
		int(a.TimeSlot.StartTime), int(a.TimeSlot.EndTime), a.Status, a.Type, a.Mode, a.Reason, symptoms,
		a.Notes, a.Fee, a.PaymentStatus, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "appointments_appointment_number_key" {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	var (
		cancelledBy          *uuid.UUID
		cancelledAt          *time.Time
		cancelReason, refund *string
	)
	if c := a.Cancellation; c != nil {
		cancelledBy, cancelledAt = &c.By, &c.At
		rs := string(c.RefundStatus)
		cancelReason, refund = &c.Reason, &rs
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    start_minute = $3,
		    end_minute = $4,
		    status = $5,
		    notes = $6,
		    payment_status = $7,
		    cancelled_by = $8,
		    cancelled_at = $9,
		    cancellation_reason = $10,
		    refund_status = $11,
		    checked_in_at = $12,
		    updated_at = $13
		WHERE id = $1
	`,
		a.ID, pgDate(a.Date), int(a.TimeSlot.StartTime), int(a.TimeSlot.EndTime), a.Status,
		a.Notes, a.PaymentStatus, cancelledBy, cancelledAt, cancelReason, refund,
		a.CheckedInAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertRescheduleEntry(ctx context.Context, appointmentID uuid.UUID, e RescheduleEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointment_reschedules (
			appointment_id, previous_date, previous_start_minute, previous_end_minute,
			new_date, new_start_minute, new_end_minute, reason, actor_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		appointmentID,
		pgDate(e.PreviousDate), int(e.PreviousTimeSlot.StartTime), int(e.PreviousTimeSlot.EndTime),
		pgDate(e.NewDate), int(e.NewTimeSlot.StartTime), int(e.NewTimeSlot.EndTime),
		e.Reason, e.ActorID, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert reschedule entry: %w", err)
	}
	return nil
}

func (r *PgRepository) loadHistory(ctx context.Context, a *Appointment) error {
	rows, err := r.q.Query(ctx, `
		SELECT previous_date, previous_start_minute, previous_end_minute,
		       new_date, new_start_minute, new_end_minute, reason, actor_id, created_at
		FROM appointment_reschedules
		WHERE appointment_id = $1
		ORDER BY id
	`, a.ID)
	if err != nil {
		return fmt.Errorf("load reschedule history: %w", err)
	}
	defer rows.Close()

	history := []RescheduleEntry{}
	for rows.Next() {
		var (
			e                 RescheduleEntry
			prevDate, newDate time.Time
			ps, pe, ns, ne    int
		)
		if err := rows.Scan(&prevDate, &ps, &pe, &newDate, &ns, &ne, &e.Reason, &e.ActorID, &e.At); err != nil {
			return err
		}
		e.PreviousDate = schedule.DateOf(prevDate)
		e.PreviousTimeSlot = TimeSlot{StartTime: schedule.TimeOfDay(ps), EndTime: schedule.TimeOfDay(pe)}
		e.NewDate = schedule.DateOf(newDate)
		e.NewTimeSlot = TimeSlot{StartTime: schedule.TimeOfDay(ns), EndTime: schedule.TimeOfDay(ne)}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	a.RescheduleHistory = history
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
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
