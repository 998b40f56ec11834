package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/api/internal/platform/db"
)

// PgDoctorRepository is the PostgreSQL DoctorRepository.
type PgDoctorRepository struct {
	pool *pgxpool.Pool
}

func NewPgDoctorRepository(pool *pgxpool.Pool) *PgDoctorRepository {
	return &PgDoctorRepository{pool: pool}
}

func (r *PgDoctorRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const doctorCols = `id, name, department, room, active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Department, &d.Room, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgDoctorRepository) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO doctor (id, name, department, room, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Name, d.Department, d.Room, d.Active, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *PgDoctorRepository) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id)
	d, err := scanDoctor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (r *PgDoctorRepository) Update(ctx context.Context, d *Doctor) error {
	d.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctor SET name = $2, department = $3, room = $4, active = $5, updated_at = $6
		 WHERE id = $1`,
		d.ID, d.Name, d.Department, d.Room, d.Active, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgDoctorRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM doctor`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorCols+` FROM doctor`+where+` ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// PgScheduleRepository is the PostgreSQL ScheduleRepository. Times of day are
// stored as smallint minutes since midnight.
type PgScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewPgScheduleRepository(pool *pgxpool.Pool) *PgScheduleRepository {
	return &PgScheduleRepository{pool: pool}
}

func (r *PgScheduleRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const scheduleCols = `id, doctor_id, weekday, session, start_minute, end_minute,
	slot_minutes, max_patients, active, created_at, updated_at`

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	var weekday, start, end int
	err := row.Scan(&s.ID, &s.DoctorID, &weekday, &s.Session, &start, &end,
		&s.SlotMinutes, &s.MaxPatients, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Weekday = time.Weekday(weekday)
	s.StartTime = TimeOfDay(start)
	s.EndTime = TimeOfDay(end)
	return &s, nil
}

func (r *PgScheduleRepository) Create(ctx context.Context, s *DoctorSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO doctor_schedule
		 (id, doctor_id, weekday, session, start_minute, end_minute, slot_minutes, max_patients, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.DoctorID, int(s.Weekday), s.Session, int(s.StartTime), int(s.EndTime),
		s.SlotMinutes, s.MaxPatients, s.Active, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *PgScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM doctor_schedule WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (r *PgScheduleRepository) Update(ctx context.Context, s *DoctorSchedule) error {
	s.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctor_schedule SET weekday = $2, session = $3, start_minute = $4,
		 end_minute = $5, slot_minutes = $6, max_patients = $7, active = $8, updated_at = $9
		 WHERE id = $1`,
		s.ID, int(s.Weekday), s.Session, int(s.StartTime), int(s.EndTime),
		s.SlotMinutes, s.MaxPatients, s.Active, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_schedule WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgScheduleRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scheduleCols+` FROM doctor_schedule
		 WHERE doctor_id = $1 ORDER BY weekday, start_minute`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *PgScheduleRepository) ActiveForWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*DoctorSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scheduleCols+` FROM doctor_schedule
		 WHERE doctor_id = $1 AND weekday = $2 AND active
		 ORDER BY start_minute`, doctorID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]*DoctorSchedule, error) {
	var out []*DoctorSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PgLeaveRepository is the PostgreSQL LeaveRepository.
type PgLeaveRepository struct {
	pool *pgxpool.Pool
}

func NewPgLeaveRepository(pool *pgxpool.Pool) *PgLeaveRepository {
	return &PgLeaveRepository{pool: pool}
}

func (r *PgLeaveRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const leaveCols = `id, doctor_id, start_date, end_date, reason, active, created_at`

func scanLeave(row pgx.Row) (*DoctorLeave, error) {
	var l DoctorLeave
	err := row.Scan(&l.ID, &l.DoctorID, &l.StartDate, &l.EndDate, &l.Reason, &l.Active, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PgLeaveRepository) Create(ctx context.Context, l *DoctorLeave) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO doctor_leave (id, doctor_id, start_date, end_date, reason, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.DoctorID, DateOnly(l.StartDate), DateOnly(l.EndDate), l.Reason, l.Active, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert leave: %w", err)
	}
	return nil
}

func (r *PgLeaveRepository) GetByID(ctx context.Context, id uuid.UUID) (*DoctorLeave, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+leaveCols+` FROM doctor_leave WHERE id = $1`, id)
	l, err := scanLeave(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeaveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get leave: %w", err)
	}
	return l, nil
}

func (r *PgLeaveRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctor_leave SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel leave: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaveNotFound
	}
	return nil
}

func (r *PgLeaveRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorLeave, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+leaveCols+` FROM doctor_leave
		 WHERE doctor_id = $1 ORDER BY start_date DESC`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	defer rows.Close()

	var out []*DoctorLeave
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leave: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PgLeaveRepository) Covering(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorLeave, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+leaveCols+` FROM doctor_leave
		 WHERE doctor_id = $1 AND active AND start_date <= $2 AND end_date >= $2
		 ORDER BY start_date LIMIT 1`, doctorID, DateOnly(date))
	l, err := scanLeave(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find covering leave: %w", err)
	}
	return l, nil
}
