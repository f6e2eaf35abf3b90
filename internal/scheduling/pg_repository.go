package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

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

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, q: tx, inTx: true})
	})
}

// Helpers

const slotColumns = `id, doctor_id, start_time, end_time, reserved, created_at, updated_at`

const appointmentColumns = `id, user_id, doctor_id, slot_id, status, mode, meeting_link, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Reserved,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.DoctorID,
		&a.SlotID,
		&a.Status,
		&a.Mode,
		&a.MeetingLink,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Slot methods

func (r *PgRepository) InsertSlot(ctx context.Context, s Slot) (*Slot, bool, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, start_time, end_time, reserved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, now(), now())
		ON CONFLICT (doctor_id, start_time) DO NOTHING
		RETURNING `+slotColumns, s.ID, s.DoctorID, s.StartTime, s.EndTime)

	created, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert slot: %w", err)
	}
	return created, true, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit int) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND reserved = false
		  AND ($2::timestamptz IS NULL OR start_time >= $2)
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time ASC
		LIMIT $4
	`, doctorID, nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ReserveSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE availability_slots
		SET reserved = true,
		    updated_at = now()
		WHERE id = $1
		  AND reserved = false
		RETURNING `+slotColumns, id)

	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrSlotUnavailable
	}
	return s, err
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE availability_slots
		SET reserved = false,
		    updated_at = now()
		WHERE id = $1
		  AND reserved = true
	`, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Appointment methods

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, slot_id, status, mode, meeting_link, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.UserID, a.DoctorID, a.SlotID, a.Status, a.Mode, a.MeetingLink)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::uuid IS NULL OR user_id = $1)
		  AND ($2::uuid IS NULL OR doctor_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, f.UserID, f.DoctorID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
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

func (r *PgRepository) FindOrphanedReservations(ctx context.Context, before time.Time) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots s
		WHERE s.reserved = true
		  AND s.updated_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
	`, before)
	if err != nil {
		return nil, fmt.Errorf("find orphaned reservations: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ReleaseOrphan(ctx context.Context, id uuid.UUID, before time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE availability_slots s
		SET reserved = false,
		    updated_at = now()
		WHERE s.id = $1
		  AND s.reserved = true
		  AND s.updated_at < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
	`, id, before)
	if err != nil {
		return false, fmt.Errorf("release orphaned slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PgDoctorDirectory reads approval flags from doctor_profiles.
type PgDoctorDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDoctorDirectory(pool *pgxpool.Pool) *PgDoctorDirectory {
	return &PgDoctorDirectory{pool: pool}
}

func (d *PgDoctorDirectory) IsApproved(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	var approved bool
	err := d.pool.QueryRow(ctx, `
		SELECT approved
		FROM doctor_profiles
		WHERE user_id = $1
	`, doctorID).Scan(&approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load doctor profile: %w", err)
	}
	return approved, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
