package queue

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

// PgRepository is the PostgreSQL Repository. (doctor_id, date, number) is
// unique, which is what makes two-phase renumbering necessary.
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

const ticketCols = `id, appointment_id, patient_id, doctor_id, date, number, status,
	is_skipped, call_count, appt_minute, created_at, called_at, finished_at`

const canonicalOrder = ` ORDER BY appt_minute ASC NULLS LAST, created_at ASC, id ASC`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var apptMinute *int
	err := row.Scan(&t.ID, &t.AppointmentID, &t.PatientID, &t.DoctorID, &t.Date,
		&t.Number, &t.Status, &t.IsSkipped, &t.CallCount, &apptMinute,
		&t.CreatedAt, &t.CalledAt, &t.FinishedAt)
	if err != nil {
		return nil, err
	}
	if apptMinute != nil {
		m := schedule.TimeOfDay(*apptMinute)
		t.ApptTime = &m
	}
	return &t, nil
}

func (r *PgRepository) Create(ctx context.Context, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var apptMinute *int
	if t.ApptTime != nil {
		m := t.ApptTime.Minutes()
		apptMinute = &m
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO visit_ticket
		 (id, appointment_id, patient_id, doctor_id, date, number, status,
		  is_skipped, call_count, appt_minute, created_at, called_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.AppointmentID, t.PatientID, t.DoctorID, schedule.DateOnly(t.Date),
		t.Number, t.Status, t.IsSkipped, t.CallCount, apptMinute,
		t.CreatedAt, t.CalledAt, t.FinishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrNumberTaken
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` FROM visit_ticket WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Ticket, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` FROM visit_ticket WHERE appointment_id = $1`, appointmentID)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by appointment: %w", err)
	}
	return t, nil
}

func (r *PgRepository) Update(ctx context.Context, t *Ticket) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit_ticket SET status = $2, is_skipped = $3, call_count = $4,
		 called_at = $5, finished_at = $6
		 WHERE id = $1`,
		t.ID, t.Status, t.IsSkipped, t.CallCount, t.CalledAt, t.FinishedAt)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) UpdateNumber(ctx context.Context, id uuid.UUID, number int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit_ticket SET number = $2 WHERE id = $1`, id, number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrNumberTaken
		}
		return fmt.Errorf("update ticket number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM visit_ticket WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) MaxNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var max int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM visit_ticket
		 WHERE doctor_id = $1 AND date = $2`, doctorID, schedule.DateOnly(date)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max ticket number: %w", err)
	}
	return max, nil
}

func (r *PgRepository) ListForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Ticket, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+ticketCols+` FROM visit_ticket
		 WHERE doctor_id = $1 AND date = $2`+canonicalOrder,
		doctorID, schedule.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PgRepository) FirstWaiting(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error) {
	return r.firstWithStatus(ctx, doctorID, date, StatusWaiting, canonicalOrder)
}

func (r *PgRepository) CurrentCalling(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error) {
	return r.firstWithStatus(ctx, doctorID, date, StatusCalling, ` ORDER BY number`)
}

func (r *PgRepository) LastDone(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error) {
	return r.firstWithStatus(ctx, doctorID, date, StatusDone, ` ORDER BY finished_at DESC`)
}

func (r *PgRepository) firstWithStatus(ctx context.Context, doctorID uuid.UUID, date time.Time, status Status, order string) (*Ticket, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+` FROM visit_ticket
		 WHERE doctor_id = $1 AND date = $2 AND status = $3`+order+` LIMIT 1`,
		doctorID, schedule.DateOnly(date), status)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first %s ticket: %w", status, err)
	}
	return t, nil
}

func (r *PgRepository) DemoteCalling(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE visit_ticket SET status = $3
		 WHERE doctor_id = $1 AND date = $2 AND status = $4`,
		doctorID, schedule.DateOnly(date), StatusWaiting, StatusCalling)
	if err != nil {
		return fmt.Errorf("demote calling tickets: %w", err)
	}
	return nil
}
