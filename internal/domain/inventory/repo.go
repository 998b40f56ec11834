package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDrugNotFound  = errors.New("drug not found")
	ErrBatchNotFound = errors.New("batch not found")
	ErrCodeTaken     = errors.New("drug code already in use")
)

// DrugRepository persists the drug catalog.
type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	GetByCode(ctx context.Context, code string) (*Drug, error)
	Update(ctx context.Context, d *Drug) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Drug, int, error)
	ListLowStock(ctx context.Context) ([]*Drug, error)
	SetStockQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	// NextCodeNumber draws the next value in the drug code sequence.
	NextCodeNumber(ctx context.Context) (int, error)
}

// BatchRepository persists stock batches.
type BatchRepository interface {
	Create(ctx context.Context, b *StockBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*StockBatch, error)
	Update(ctx context.Context, b *StockBatch) error
	ListByDrug(ctx context.Context, drugID uuid.UUID) ([]*StockBatch, error)
	// Eligible returns dispensable batches in FEFO order: NORMAL status,
	// positive quantity, expiry on or after minExpiry, ordered by expiry
	// then creation. Rows are locked for the enclosing transaction.
	Eligible(ctx context.Context, drugID uuid.UUID, minExpiry time.Time) ([]*StockBatch, error)
	// SumQuantities totals quantity across every batch of the drug.
	SumQuantities(ctx context.Context, drugID uuid.UUID) (int, error)
	// NextBatchNumber draws the next value in the batch number sequence.
	NextBatchNumber(ctx context.Context) (int, error)
}

// TransactionRepository appends and reads ledger entries.
type TransactionRepository interface {
	Insert(ctx context.Context, t *StockTransaction) error
	ListByDrug(ctx context.Context, drugID uuid.UUID, limit, offset int) ([]*StockTransaction, int, error)
	SumChanges(ctx context.Context, drugID uuid.UUID) (int, error)
}
