package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Ledger is the single write path for stock. Every batch mutation goes
// through Apply, which changes the batch, appends the ledger entry, and
// refreshes the drug's cached total in the caller's transaction. Nothing
// else writes batch quantities.
type Ledger struct {
	drugs   DrugRepository
	batches BatchRepository
	txns    TransactionRepository
}

func NewLedger(drugs DrugRepository, batches BatchRepository, txns TransactionRepository) *Ledger {
	return &Ledger{drugs: drugs, batches: batches, txns: txns}
}

// Entry describes one stock movement against a batch.
type Entry struct {
	Change         int
	Reason         string
	Note           string
	PrescriptionID *uuid.UUID
	Operator       string
}

// Apply mutates the batch by e.Change, appends the ledger entry, and
// refreshes the drug cache. A change that would take the batch negative is
// rejected before anything is written. A batch drained to zero by a destroy
// entry is retired to DESTROYED.
func (l *Ledger) Apply(ctx context.Context, batch *StockBatch, e Entry) error {
	newQty := batch.Quantity + e.Change
	if newQty < 0 {
		return fmt.Errorf("batch %s holds %d, cannot remove %d", batch.BatchNo, batch.Quantity, -e.Change)
	}
	batch.Quantity = newQty
	if e.Reason == ReasonDestroy && newQty == 0 {
		batch.Status = BatchDestroyed
	}
	if err := l.batches.Update(ctx, batch); err != nil {
		return err
	}
	batchID := batch.ID
	if err := l.txns.Insert(ctx, &StockTransaction{
		DrugID:         batch.DrugID,
		BatchID:        &batchID,
		Change:         e.Change,
		Reason:         e.Reason,
		Note:           e.Note,
		PrescriptionID: e.PrescriptionID,
		Operator:       e.Operator,
	}); err != nil {
		return err
	}
	return l.RefreshStock(ctx, batch.DrugID)
}

// Mark appends a zero-change entry recording a status event, such as a
// quarantine, without touching quantities.
func (l *Ledger) Mark(ctx context.Context, batch *StockBatch, note, operator string) error {
	batchID := batch.ID
	return l.txns.Insert(ctx, &StockTransaction{
		DrugID:   batch.DrugID,
		BatchID:  &batchID,
		Change:   0,
		Reason:   ReasonAdjust,
		Note:     note,
		Operator: operator,
	})
}

// RefreshStock recomputes the drug's cached quantity from its batches.
func (l *Ledger) RefreshStock(ctx context.Context, drugID uuid.UUID) error {
	total, err := l.batches.SumQuantities(ctx, drugID)
	if err != nil {
		return err
	}
	return l.drugs.SetStockQuantity(ctx, drugID, total)
}
