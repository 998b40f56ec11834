package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/api/internal/platform/lock"
)

// TxRunner runs fn inside a database transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Service manages the drug catalog, batch lifecycle, and FEFO dispensing.
type Service struct {
	drugs   DrugRepository
	batches BatchRepository
	txns    TransactionRepository
	ledger  *Ledger
	locker  lock.Locker
	runTx   TxRunner
	// minValidDays is the clinic-wide shelf-life floor applied on top of
	// each prescription item's treatment days.
	minValidDays int
	now          func() time.Time
	log          zerolog.Logger
}

func NewService(
	drugs DrugRepository,
	batches BatchRepository,
	txns TransactionRepository,
	locker lock.Locker,
	runTx TxRunner,
	minValidDays int,
	log zerolog.Logger,
) *Service {
	return &Service{
		drugs:        drugs,
		batches:      batches,
		txns:         txns,
		ledger:       NewLedger(drugs, batches, txns),
		locker:       locker,
		runTx:        runTx,
		minValidDays: minValidDays,
		now:          time.Now,
		log:          log,
	}
}

// CreateDrug registers a catalog entry, assigning the next sequential code
// when none is given.
func (s *Service) CreateDrug(ctx context.Context, d *Drug) error {
	if d.Name == "" {
		return fmt.Errorf("drug name is required")
	}
	if d.Unit == "" {
		d.Unit = "unit"
	}
	if d.Code == "" {
		n, err := s.drugs.NextCodeNumber(ctx)
		if err != nil {
			return err
		}
		d.Code = FormatCode(n)
	}
	d.Active = true
	d.StockQuantity = 0
	if err := s.drugs.Create(ctx, d); err != nil {
		return err
	}
	s.log.Info().Str("drug_id", d.ID.String()).Str("code", d.Code).Msg("drug created")
	return nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

func (s *Service) UpdateDrug(ctx context.Context, d *Drug) error {
	if d.Name == "" {
		return fmt.Errorf("drug name is required")
	}
	return s.drugs.Update(ctx, d)
}

func (s *Service) ListDrugs(ctx context.Context, activeOnly bool, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.List(ctx, activeOnly, limit, offset)
}

// ListLowStock returns active drugs at or below their reorder level.
func (s *Service) ListLowStock(ctx context.Context) ([]*Drug, error) {
	return s.drugs.ListLowStock(ctx)
}

func (s *Service) ListBatches(ctx context.Context, drugID uuid.UUID) ([]*StockBatch, error) {
	return s.batches.ListByDrug(ctx, drugID)
}

func (s *Service) ListTransactions(ctx context.Context, drugID uuid.UUID, limit, offset int) ([]*StockTransaction, int, error) {
	return s.txns.ListByDrug(ctx, drugID, limit, offset)
}

// StockIn receives a purchase into a new batch. The batch number is
// generated date-first so numbers sort by receipt day.
func (s *Service) StockIn(ctx context.Context, drugID uuid.UUID, quantity int, expiry time.Time, note, operator string) (*StockBatch, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if _, err := s.drugs.GetByID(ctx, drugID); err != nil {
		return nil, err
	}
	var batch *StockBatch
	err := s.locker.WithLock(ctx, lock.DrugKey(drugID), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			n, err := s.batches.NextBatchNumber(ctx)
			if err != nil {
				return err
			}
			batch = &StockBatch{
				ID:         uuid.New(),
				DrugID:     drugID,
				BatchNo:    FormatBatchNo(s.now(), n),
				ExpiryDate: expiry,
				Quantity:   0,
				Status:     BatchNormal,
				CreatedAt:  s.now(),
			}
			if err := s.batches.Create(ctx, batch); err != nil {
				return err
			}
			return s.ledger.Apply(ctx, batch, Entry{
				Change:   quantity,
				Reason:   ReasonPurchase,
				Note:     note,
				Operator: operator,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("drug_id", drugID.String()).
		Str("batch_no", batch.BatchNo).
		Int("quantity", quantity).
		Msg("stock received")
	return batch, nil
}

// ReturnToBatch puts dispensed stock back onto its original batch.
func (s *Service) ReturnToBatch(ctx context.Context, batchID uuid.UUID, quantity int, note, operator string) (*StockBatch, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	return s.batchMutation(ctx, batchID, func(ctx context.Context, b *StockBatch) error {
		if b.Status == BatchDestroyed {
			return fmt.Errorf("batch %s is destroyed", b.BatchNo)
		}
		return s.ledger.Apply(ctx, b, Entry{
			Change:   quantity,
			Reason:   ReasonReturn,
			Note:     note,
			Operator: operator,
		})
	})
}

// AdjustBatch applies a manual correction, positive or negative.
func (s *Service) AdjustBatch(ctx context.Context, batchID uuid.UUID, change int, note, operator string) (*StockBatch, error) {
	if change == 0 {
		return nil, fmt.Errorf("change must be non-zero")
	}
	return s.batchMutation(ctx, batchID, func(ctx context.Context, b *StockBatch) error {
		return s.ledger.Apply(ctx, b, Entry{
			Change:   change,
			Reason:   ReasonAdjust,
			Note:     note,
			Operator: operator,
		})
	})
}

// DestroyBatch writes off quantity from the batch; zero quantity means the
// whole remaining lot. A batch drained to zero is retired to DESTROYED.
func (s *Service) DestroyBatch(ctx context.Context, batchID uuid.UUID, quantity int, note, operator string) (*StockBatch, error) {
	return s.batchMutation(ctx, batchID, func(ctx context.Context, b *StockBatch) error {
		qty := quantity
		if qty == 0 {
			qty = b.Quantity
		}
		if qty <= 0 {
			return fmt.Errorf("destroy quantity must be positive")
		}
		if qty > b.Quantity {
			return fmt.Errorf("destroy quantity %d exceeds batch quantity %d", qty, b.Quantity)
		}
		return s.ledger.Apply(ctx, b, Entry{
			Change:   -qty,
			Reason:   ReasonDestroy,
			Note:     note,
			Operator: operator,
		})
	})
}

// QuarantineBatch pulls a batch out of dispensing. The quantity stays put; a
// zero-change ledger entry records the event. Already quarantined batches
// are left as they are.
func (s *Service) QuarantineBatch(ctx context.Context, batchID uuid.UUID, reason, note, operator string) (*StockBatch, error) {
	return s.batchMutation(ctx, batchID, func(ctx context.Context, b *StockBatch) error {
		if b.Status == BatchQuarantine {
			return nil
		}
		if b.Status == BatchDestroyed {
			return fmt.Errorf("batch %s is destroyed", b.BatchNo)
		}
		b.Status = BatchQuarantine
		b.QuarantineReason = reason
		b.QuarantineNote = note
		if err := s.batches.Update(ctx, b); err != nil {
			return err
		}
		return s.ledger.Mark(ctx, b, fmt.Sprintf("quarantined: %s", reason), operator)
	})
}

// UnquarantineBatch returns a quarantined batch to normal circulation.
func (s *Service) UnquarantineBatch(ctx context.Context, batchID uuid.UUID, note, operator string) (*StockBatch, error) {
	return s.batchMutation(ctx, batchID, func(ctx context.Context, b *StockBatch) error {
		if b.Status == BatchNormal {
			return nil
		}
		if b.Status == BatchDestroyed {
			return fmt.Errorf("batch %s is destroyed", b.BatchNo)
		}
		b.Status = BatchNormal
		b.QuarantineReason = ""
		b.QuarantineNote = ""
		if err := s.batches.Update(ctx, b); err != nil {
			return err
		}
		return s.ledger.Mark(ctx, b, "quarantine released", operator)
	})
}

func (s *Service) batchMutation(ctx context.Context, batchID uuid.UUID, fn func(ctx context.Context, b *StockBatch) error) (*StockBatch, error) {
	initial, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var out *StockBatch
	err = s.locker.WithLock(ctx, lock.DrugKey(initial.DrugID), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			b, err := s.batches.GetByID(ctx, batchID)
			if err != nil {
				return err
			}
			if err := fn(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// minExpiry computes the earliest acceptable expiry date: the drug must
// outlast the treatment or the clinic-wide floor, whichever is longer.
func (s *Service) minExpiry(treatmentDays int) time.Time {
	needDays := treatmentDays
	if needDays < s.minValidDays {
		needDays = s.minValidDays
	}
	if needDays < 0 {
		needDays = 0
	}
	today := s.now()
	return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location()).
		AddDate(0, 0, needDays)
}

// CanAllocate checks, without writing anything, whether eligible batches
// cover the quantity. Returns a ShortageError naming the deficit when they
// do not.
func (s *Service) CanAllocate(ctx context.Context, drugID uuid.UUID, quantity, treatmentDays int) error {
	if quantity <= 0 {
		return nil
	}
	drug, err := s.drugs.GetByID(ctx, drugID)
	if err != nil {
		return err
	}
	eligible, err := s.batches.Eligible(ctx, drugID, s.minExpiry(treatmentDays))
	if err != nil {
		return err
	}
	remain := quantity
	for _, b := range eligible {
		remain -= b.Quantity
		if remain <= 0 {
			return nil
		}
	}
	return &ShortageError{DrugName: drug.Name, Missing: remain}
}

// Allocate draws quantity from eligible batches first-expiry-first-out and
// records a dispense ledger entry per batch touched. The walk is greedy:
// each batch is drained before the next is opened. Runs entirely inside the
// caller's transaction when one is on the context, so a multi-item dispense
// commits or rolls back as a unit.
func (s *Service) Allocate(ctx context.Context, drugID uuid.UUID, quantity, treatmentDays int, prescriptionID *uuid.UUID, operator string) error {
	if quantity <= 0 {
		return nil
	}
	drug, err := s.drugs.GetByID(ctx, drugID)
	if err != nil {
		return err
	}
	return s.locker.WithLock(ctx, lock.DrugKey(drugID), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			eligible, err := s.batches.Eligible(ctx, drugID, s.minExpiry(treatmentDays))
			if err != nil {
				return err
			}

			// Preview before writing: either the whole quantity is
			// coverable or nothing moves.
			remain := quantity
			for _, b := range eligible {
				remain -= b.Quantity
				if remain <= 0 {
					break
				}
			}
			if remain > 0 {
				return &ShortageError{DrugName: drug.Name, Missing: remain}
			}

			remain = quantity
			for _, b := range eligible {
				if remain <= 0 {
					break
				}
				take := b.Quantity
				if take > remain {
					take = remain
				}
				err := s.ledger.Apply(ctx, b, Entry{
					Change:         -take,
					Reason:         ReasonDispense,
					Note:           fmt.Sprintf("dispensed from batch %s", b.BatchNo),
					PrescriptionID: prescriptionID,
					Operator:       operator,
				})
				if err != nil {
					return err
				}
				remain -= take
			}
			s.log.Info().
				Str("drug_id", drugID.String()).
				Int("quantity", quantity).
				Msg("stock allocated")
			return nil
		})
	})
}
