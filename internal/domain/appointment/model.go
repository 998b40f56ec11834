package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/api/internal/domain/schedule"
)

type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCancelled Status = "CANCELLED"
	StatusDone      Status = "DONE"
	StatusNoShow    Status = "NO_SHOW"
)

// Appointment is one booked slot. A cancelled appointment frees its slot; the
// database enforces uniqueness of (doctor, date, time) over non-cancelled
// rows only.
type Appointment struct {
	ID        uuid.UUID          `db:"id" json:"id"`
	PatientID uuid.UUID          `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	Date      time.Time          `db:"date" json:"date"`
	Time      schedule.TimeOfDay `db:"time_minute" json:"time"`
	Status    Status             `db:"status" json:"status"`
	Note      string             `db:"note" json:"note,omitempty"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// Active reports whether the appointment still holds its slot.
func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}
