package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound   = errors.New("doctor not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrLeaveNotFound    = errors.New("leave not found")
)

// DoctorRepository persists the clinician registry.
type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error)
}

// ScheduleRepository persists weekly recurring sessions.
type ScheduleRepository interface {
	Create(ctx context.Context, s *DoctorSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error)
	Update(ctx context.Context, s *DoctorSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error)
	// ActiveForWeekday returns active sessions for the weekday ordered by
	// start time, the order slot generation walks them in.
	ActiveForWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*DoctorSchedule, error)
}

// LeaveRepository persists leave ranges.
type LeaveRepository interface {
	Create(ctx context.Context, l *DoctorLeave) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorLeave, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorLeave, error)
	// Covering returns the first active leave that blocks the date, or nil.
	Covering(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorLeave, error)
}
