package inventory

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

// PgDrugRepository is the PostgreSQL DrugRepository.
type PgDrugRepository struct {
	pool *pgxpool.Pool
}

func NewPgDrugRepository(pool *pgxpool.Pool) *PgDrugRepository {
	return &PgDrugRepository{pool: pool}
}

func (r *PgDrugRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const drugCols = `id, code, name, generic_name, form, strength, unit, unit_price,
	stock_quantity, reorder_level, active, created_at, updated_at`

func scanDrug(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.GenericName, &d.Form, &d.Strength,
		&d.Unit, &d.UnitPrice, &d.StockQuantity, &d.ReorderLevel, &d.Active,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgDrugRepository) Create(ctx context.Context, d *Drug) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO drug (id, code, name, generic_name, form, strength, unit, unit_price,
		 stock_quantity, reorder_level, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.Code, d.Name, d.GenericName, d.Form, d.Strength, d.Unit, d.UnitPrice,
		d.StockQuantity, d.ReorderLevel, d.Active, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCodeTaken
		}
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}

func (r *PgDrugRepository) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drug WHERE id = $1`, id)
	d, err := scanDrug(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDrugNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get drug: %w", err)
	}
	return d, nil
}

func (r *PgDrugRepository) GetByCode(ctx context.Context, code string) (*Drug, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drug WHERE code = $1`, code)
	d, err := scanDrug(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDrugNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get drug by code: %w", err)
	}
	return d, nil
}

func (r *PgDrugRepository) Update(ctx context.Context, d *Drug) error {
	d.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE drug SET name = $2, generic_name = $3, form = $4, strength = $5,
		 unit = $6, unit_price = $7, reorder_level = $8, active = $9, updated_at = $10
		 WHERE id = $1`,
		d.ID, d.Name, d.GenericName, d.Form, d.Strength, d.Unit, d.UnitPrice,
		d.ReorderLevel, d.Active, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update drug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

func (r *PgDrugRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Drug, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM drug`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count drugs: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug`+where+` ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list drugs: %w", err)
	}
	defer rows.Close()
	items, err := collectDrugs(rows)
	return items, total, err
}

func (r *PgDrugRepository) ListLowStock(ctx context.Context) ([]*Drug, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug
		 WHERE active AND reorder_level > 0 AND stock_quantity <= reorder_level
		 ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list low stock drugs: %w", err)
	}
	defer rows.Close()
	return collectDrugs(rows)
}

func (r *PgDrugRepository) SetStockQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE drug SET stock_quantity = $2, updated_at = now() WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("set stock quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

func (r *PgDrugRepository) NextCodeNumber(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('drug_code_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next drug code: %w", err)
	}
	return n, nil
}

func collectDrugs(rows pgx.Rows) ([]*Drug, error) {
	var out []*Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drug: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PgBatchRepository is the PostgreSQL BatchRepository.
type PgBatchRepository struct {
	pool *pgxpool.Pool
}

func NewPgBatchRepository(pool *pgxpool.Pool) *PgBatchRepository {
	return &PgBatchRepository{pool: pool}
}

func (r *PgBatchRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const batchCols = `id, drug_id, batch_no, expiry_date, quantity, status,
	quarantine_reason, quarantine_note, created_at`

func scanBatch(row pgx.Row) (*StockBatch, error) {
	var b StockBatch
	err := row.Scan(&b.ID, &b.DrugID, &b.BatchNo, &b.ExpiryDate, &b.Quantity,
		&b.Status, &b.QuarantineReason, &b.QuarantineNote, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PgBatchRepository) Create(ctx context.Context, b *StockBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO stock_batch (id, drug_id, batch_no, expiry_date, quantity, status,
		 quarantine_reason, quarantine_note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.DrugID, b.BatchNo, schedule.DateOnly(b.ExpiryDate), b.Quantity, b.Status,
		b.QuarantineReason, b.QuarantineNote, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *PgBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*StockBatch, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+batchCols+` FROM stock_batch WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *PgBatchRepository) Update(ctx context.Context, b *StockBatch) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE stock_batch SET quantity = $2, status = $3, quarantine_reason = $4, quarantine_note = $5
		 WHERE id = $1`,
		b.ID, b.Quantity, b.Status, b.QuarantineReason, b.QuarantineNote)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *PgBatchRepository) ListByDrug(ctx context.Context, drugID uuid.UUID) ([]*StockBatch, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+batchCols+` FROM stock_batch
		 WHERE drug_id = $1 ORDER BY expiry_date, created_at`, drugID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *PgBatchRepository) Eligible(ctx context.Context, drugID uuid.UUID, minExpiry time.Time) ([]*StockBatch, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+batchCols+` FROM stock_batch
		 WHERE drug_id = $1 AND status = $2 AND quantity > 0 AND expiry_date >= $3
		 ORDER BY expiry_date, created_at, id
		 FOR UPDATE`,
		drugID, BatchNormal, schedule.DateOnly(minExpiry))
	if err != nil {
		return nil, fmt.Errorf("query eligible batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *PgBatchRepository) SumQuantities(ctx context.Context, drugID uuid.UUID) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_batch WHERE drug_id = $1`, drugID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum batch quantities: %w", err)
	}
	return total, nil
}

func (r *PgBatchRepository) NextBatchNumber(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('batch_no_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next batch number: %w", err)
	}
	return n, nil
}

func collectBatches(rows pgx.Rows) ([]*StockBatch, error) {
	var out []*StockBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PgTransactionRepository is the PostgreSQL TransactionRepository. Rows are
// append-only; there is no update or delete.
type PgTransactionRepository struct {
	pool *pgxpool.Pool
}

func NewPgTransactionRepository(pool *pgxpool.Pool) *PgTransactionRepository {
	return &PgTransactionRepository{pool: pool}
}

func (r *PgTransactionRepository) conn(ctx context.Context) db.Querier {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

const txnCols = `id, drug_id, batch_id, change, reason, note, prescription_id, operator, created_at`

func (r *PgTransactionRepository) Insert(ctx context.Context, t *StockTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO stock_transaction (id, drug_id, batch_id, change, reason, note, prescription_id, operator, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.DrugID, t.BatchID, t.Change, t.Reason, t.Note, t.PrescriptionID, t.Operator, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock transaction: %w", err)
	}
	return nil
}

func (r *PgTransactionRepository) ListByDrug(ctx context.Context, drugID uuid.UUID, limit, offset int) ([]*StockTransaction, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM stock_transaction WHERE drug_id = $1`, drugID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count stock transactions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+txnCols+` FROM stock_transaction
		 WHERE drug_id = $1 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, drugID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock transactions: %w", err)
	}
	defer rows.Close()

	var out []*StockTransaction
	for rows.Next() {
		var t StockTransaction
		err := rows.Scan(&t.ID, &t.DrugID, &t.BatchID, &t.Change, &t.Reason,
			&t.Note, &t.PrescriptionID, &t.Operator, &t.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan stock transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}

func (r *PgTransactionRepository) SumChanges(ctx context.Context, drugID uuid.UUID) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(change), 0) FROM stock_transaction WHERE drug_id = $1`, drugID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum stock changes: %w", err)
	}
	return total, nil
}
