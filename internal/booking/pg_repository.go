package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/clinic-scheduling/internal/availability"
	"github.com/careloop/clinic-scheduling/internal/tenant"
)

const appointmentColumns = `id, tenant_id, patient_id, doctor_id, appointment_date,
	start_minutes, duration_minutes, status, appointment_type, appointment_source,
	priority, chief_complaint, notes, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve inside and outside a transaction.
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

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startMin int

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&startMin,
		&a.DurationMin,
		&a.Status,
		&a.Type,
		&a.Source,
		&a.Priority,
		&a.ChiefComplaint,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = availability.TimeOfDay(startMin)
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanAppointment(row)
}

func (r *PgRepository) CountActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (int, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND tenant_id = $2
		  AND appointment_date = $3
		  AND start_minutes = $4
		  AND status <> 'cancelled'
	`, doctorID, tenantID, date, int(start)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count appointments at slot: %w", err)
	}
	return count, nil
}

func (r *PgRepository) ListActiveForDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND tenant_id = $2
		  AND appointment_date = $3
		  AND status <> 'cancelled'
		ORDER BY start_minutes
	`, doctorID, tenantID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveInRange(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) ([]Appointment, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE tenant_id = $1
		  AND appointment_date BETWEEN $2 AND $3
		  AND status <> 'cancelled'`
	args := []any{tenantID, from, to}

	if doctorID != nil {
		query += ` AND doctor_id = $4`
		args = append(args, *doctorID)
	}
	query += ` ORDER BY doctor_id, appointment_date, start_minutes`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Insert(ctx context.Context, appt *Appointment) (*Appointment, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, doctor_id, appointment_date, start_minutes,
			duration_minutes, status, appointment_type, appointment_source,
			priority, chief_complaint, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, tenantID, appt.PatientID, appt.DoctorID, appt.Date, int(appt.StartTime),
		appt.DurationMin, appt.Status, appt.Type, appt.Source,
		appt.Priority, appt.ChiefComplaint, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO appointment_status_history (tenant_id, appointment_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, '', $3, 'created', now())
	`, tenantID, created.ID, created.Status)
	if err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND tenant_id = $2
		  AND status = $4
		RETURNING `+appointmentColumns+`
	`, id, tenantID, to, from)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Zero rows can mean the row is gone or that a concurrent
		// transaction moved the status past the CAS guard. Re-read to
		// tell the two apart.
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &InvalidTransitionError{AppointmentID: id, From: current.Status, To: to}
	}
	if err != nil {
		return nil, err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO appointment_status_history (tenant_id, appointment_id, from_status, to_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, tenantID, id, from, to, reason)
	if err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) ListStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, appointment_id, from_status, to_status, reason, changed_at
		FROM appointment_status_history
		WHERE appointment_id = $1 AND tenant_id = $2
		ORDER BY changed_at, id
	`, id, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.AppointmentID, &c.FromStatus, &c.ToStatus, &c.Reason, &c.ChangedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		// Already transactional; nested calls reuse the same tx.
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &PgRepository{pool: r.pool, q: tx, inTx: true}
	if err := fn(ctx, txRepo); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PgRepository) LockSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) error {
	if !r.inTx {
		return errors.New("LockSlot requires a transaction")
	}

	// Advisory xact lock keyed per (doctor, date, slot start). Released
	// automatically at commit/rollback, so two transactions can never both
	// pass the capacity check for the same slot.
	key := fmt.Sprintf("%s|%s|%d", doctorID, date.Format("2006-01-02"), int(start))
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	if err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
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
