package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/api/internal/domain/schedule"
	"github.com/clinicore/api/internal/platform/db"
)

// PgRepository is the PostgreSQL Repository.
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

const rxCols = `id, patient_id, doctor_id, date, status, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Date, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO prescription (id, patient_id, doctor_id, date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.PatientID, p.DoctorID, schedule.DateOnly(p.Date), p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	for _, item := range p.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.PrescriptionID = p.ID
		_, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO prescription_item (id, prescription_id, drug_id, dose, treatment_days, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.PrescriptionID, item.DrugID, item.Dose, item.TreatmentDays, item.Quantity)
		if err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+rxCols+` FROM prescription WHERE id = $1`, id)
	p, err := scanPrescription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := r.loadItems(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PgRepository) loadItems(ctx context.Context, p *Prescription) error {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, prescription_id, drug_id, dose, treatment_days, quantity
		 FROM prescription_item WHERE prescription_id = $1 ORDER BY id`, p.ID)
	if err != nil {
		return fmt.Errorf("list prescription items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		err := rows.Scan(&it.ID, &it.PrescriptionID, &it.DrugID, &it.Dose, &it.TreatmentDays, &it.Quantity)
		if err != nil {
			return fmt.Errorf("scan prescription item: %w", err)
		}
		p.Items = append(p.Items, &it)
	}
	return rows.Err()
}

func (r *PgRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE prescription SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set prescription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) ListByDate(ctx context.Context, date time.Time, statuses []Status) ([]*Prescription, error) {
	query := `SELECT ` + rxCols + ` FROM prescription WHERE date = $1`
	args := []interface{}{schedule.DateOnly(date)}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		args = append(args, ss)
	}
	query += ` ORDER BY created_at`
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()
	return r.collect(ctx, rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM prescription WHERE patient_id = $1`, patientID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+rxCols+` FROM prescription
		 WHERE patient_id = $1 ORDER BY date DESC, created_at DESC
		 LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient prescriptions: %w", err)
	}
	defer rows.Close()
	items, err := r.collect(ctx, rows)
	return items, total, err
}

func (r *PgRepository) collect(ctx context.Context, rows pgx.Rows) ([]*Prescription, error) {
	var out []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for _, p := range out {
		if err := r.loadItems(ctx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}
