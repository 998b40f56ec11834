package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("ticket not found")
	ErrNumberTaken = errors.New("ticket number already in use")
)

// Repository persists visit tickets. ListForDay and FirstWaiting return
// tickets in canonical order: appointment time first (walk-ins last), then
// creation time, then id.
type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	UpdateNumber(ctx context.Context, id uuid.UUID, number int) error
	Delete(ctx context.Context, id uuid.UUID) error
	MaxNumber(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
	ListForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Ticket, error)
	FirstWaiting(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error)
	CurrentCalling(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error)
	LastDone(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error)
	// DemoteCalling resets any CALLING ticket for the doctor-day back to
	// WAITING so at most one ticket is ever being called.
	DemoteCalling(ctx context.Context, doctorID uuid.UUID, date time.Time) error
}
