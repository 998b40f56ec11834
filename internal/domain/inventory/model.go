package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Drug is a catalog entry. StockQuantity is a cached sum over the drug's
// batches, refreshed by the ledger after every batch mutation; batches are
// the source of truth.
type Drug struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	GenericName   string    `db:"generic_name" json:"generic_name,omitempty"`
	Form          string    `db:"form" json:"form,omitempty"`
	Strength      string    `db:"strength" json:"strength,omitempty"`
	Unit          string    `db:"unit" json:"unit"`
	UnitPrice     float64   `db:"unit_price" json:"unit_price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	ReorderLevel  int       `db:"reorder_level" json:"reorder_level"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// LowStock reports whether the cached quantity has fallen to the reorder
// level.
func (d *Drug) LowStock() bool {
	return d.ReorderLevel > 0 && d.StockQuantity <= d.ReorderLevel
}

// FormatCode renders the sequential drug code.
func FormatCode(n int) string {
	return fmt.Sprintf("DRG%04d", n)
}

type BatchStatus string

const (
	BatchNormal     BatchStatus = "NORMAL"
	BatchQuarantine BatchStatus = "QUARANTINE"
	BatchDestroyed  BatchStatus = "DESTROYED"
)

// StockBatch is one dated lot of a drug. Only NORMAL batches with positive
// quantity and sufficient remaining shelf life are eligible for dispensing.
type StockBatch struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	DrugID           uuid.UUID   `db:"drug_id" json:"drug_id"`
	BatchNo          string      `db:"batch_no" json:"batch_no"`
	ExpiryDate       time.Time   `db:"expiry_date" json:"expiry_date"`
	Quantity         int         `db:"quantity" json:"quantity"`
	Status           BatchStatus `db:"status" json:"status"`
	QuarantineReason string      `db:"quarantine_reason" json:"quarantine_reason,omitempty"`
	QuarantineNote   string      `db:"quarantine_note" json:"quarantine_note,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// FormatBatchNo renders the date-prefixed batch number for the n-th batch
// received that day.
func FormatBatchNo(day time.Time, n int) string {
	return fmt.Sprintf("B%s-%04d", day.Format("20060102"), n)
}

// Transaction reasons. Positive changes add stock, negative ones remove it;
// quarantine markers carry a zero change.
const (
	ReasonPurchase = "purchase"
	ReasonDispense = "dispense"
	ReasonReturn   = "return"
	ReasonAdjust   = "adjust"
	ReasonDestroy  = "destroy"
)

// StockTransaction is one append-only ledger entry. Entries are never
// updated or deleted; summing changes per drug reproduces the batch totals.
type StockTransaction struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DrugID         uuid.UUID  `db:"drug_id" json:"drug_id"`
	BatchID        *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	Change         int        `db:"change" json:"change"`
	Reason         string     `db:"reason" json:"reason"`
	Note           string     `db:"note" json:"note,omitempty"`
	PrescriptionID *uuid.UUID `db:"prescription_id" json:"prescription_id,omitempty"`
	Operator       string     `db:"operator" json:"operator,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ShortageError reports that eligible batches cannot cover a requested
// quantity.
type ShortageError struct {
	DrugName string
	Missing  int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient eligible stock for %s: short %d", e.DrugName, e.Missing)
}
