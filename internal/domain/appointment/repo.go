package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/api/internal/domain/schedule"
)

var (
	ErrNotFound  = errors.New("appointment not found")
	ErrSlotTaken = errors.New("slot already taken")
)

// Repository persists appointments.
type Repository interface {
	// Create inserts a booked appointment. Returns ErrSlotTaken when an
	// active appointment already holds the (doctor, date, time) slot.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	// TakenTimes returns the slot times held by non-cancelled appointments
	// for the doctor-day.
	TakenTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) (map[schedule.TimeOfDay]bool, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}
