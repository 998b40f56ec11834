package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/api/internal/domain/schedule"
	"github.com/clinicore/api/internal/platform/db"
)

// PgRepository is the PostgreSQL Repository. The slot claim is backed by a
// partial unique index on (doctor_id, date, time_minute) over non-cancelled
// rows.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, date, time_minute, status, note, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var minute int
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &minute,
		&a.Status, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Time = schedule.TimeOfDay(minute)
	return &a, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO appointment (id, patient_id, doctor_id, date, time_minute, status, note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PatientID, a.DoctorID, schedule.DateOnly(a.Date), int(a.Time),
		a.Status, a.Note, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) TakenTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) (map[schedule.TimeOfDay]bool, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT time_minute FROM appointment
		 WHERE doctor_id = $1 AND date = $2 AND status <> $3`,
		doctorID, schedule.DateOnly(date), StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("query taken times: %w", err)
	}
	defer rows.Close()

	taken := make(map[schedule.TimeOfDay]bool)
	for rows.Next() {
		var minute int
		if err := rows.Scan(&minute); err != nil {
			return nil, fmt.Errorf("scan taken time: %w", err)
		}
		taken[schedule.TimeOfDay(minute)] = true
	}
	return taken, rows.Err()
}

func (r *PgRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		 WHERE doctor_id = $1 AND date = $2
		 ORDER BY time_minute, created_at`, doctorID, schedule.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment
		 WHERE patient_id = $1
		 ORDER BY date DESC, time_minute DESC
		 LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient appointments: %w", err)
	}
	defer rows.Close()
	items, err := collectAppointments(rows)
	return items, total, err
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
