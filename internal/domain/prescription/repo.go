package prescription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("prescription not found")

// Repository persists prescriptions and their items. GetByID loads items.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	ListByDate(ctx context.Context, date time.Time, statuses []Status) ([]*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
}
