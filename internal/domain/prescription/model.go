package prescription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusReady     Status = "READY"
	StatusDispensed Status = "DISPENSED"
	StatusCancelled Status = "CANCELLED"
)

// Prescription is one visit's medication order. Items are dispensed as a
// unit: either every line allocates or nothing moves.
type Prescription struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      time.Time `db:"date" json:"date"`
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Items []*Item `db:"-" json:"items,omitempty"`
}

// Item is one medication line. TreatmentDays drives the shelf-life check at
// dispense time: allocated stock must not expire before the course ends.
type Item struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	DrugID         uuid.UUID `db:"drug_id" json:"drug_id"`
	Dose           string    `db:"dose" json:"dose"`
	TreatmentDays  int       `db:"treatment_days" json:"treatment_days"`
	Quantity       int       `db:"quantity" json:"quantity"`
}

// Validate checks an item before it is attached.
func (i *Item) Validate() error {
	if i.DrugID == uuid.Nil {
		return fmt.Errorf("drug_id is required")
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if i.TreatmentDays < 0 {
		return fmt.Errorf("treatment_days must not be negative")
	}
	return nil
}
