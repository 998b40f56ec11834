package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionOverlap is returned when a doctor already has an active session
// for the same weekday and session label.
var ErrSessionOverlap = errors.New("doctor already has an active session for this weekday and session")

// Service handles doctor, schedule, and leave management.
type Service struct {
	doctors   DoctorRepository
	schedules ScheduleRepository
	leaves    LeaveRepository
	log       zerolog.Logger
}

func NewService(doctors DoctorRepository, schedules ScheduleRepository, leaves LeaveRepository, log zerolog.Logger) *Service {
	return &Service{doctors: doctors, schedules: schedules, leaves: leaves, log: log}
}

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.Name == "" {
		return fmt.Errorf("doctor name is required")
	}
	d.Active = true
	if err := s.doctors.Create(ctx, d); err != nil {
		return err
	}
	s.log.Info().Str("doctor_id", d.ID.String()).Str("name", d.Name).Msg("doctor created")
	return nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if d.Name == "" {
		return fmt.Errorf("doctor name is required")
	}
	return s.doctors.Update(ctx, d)
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, activeOnly, limit, offset)
}

// CreateSchedule adds a weekly session after checking the doctor exists and
// no active session already claims the same weekday and session label.
func (s *Service) CreateSchedule(ctx context.Context, sc *DoctorSchedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if _, err := s.doctors.GetByID(ctx, sc.DoctorID); err != nil {
		return err
	}
	existing, err := s.schedules.ActiveForWeekday(ctx, sc.DoctorID, sc.Weekday)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Session == sc.Session && e.Active {
			return ErrSessionOverlap
		}
	}
	sc.Active = true
	if err := s.schedules.Create(ctx, sc); err != nil {
		return err
	}
	s.log.Info().
		Str("schedule_id", sc.ID.String()).
		Str("doctor_id", sc.DoctorID.String()).
		Int("weekday", int(sc.Weekday)).
		Str("session", sc.Session).
		Msg("schedule created")
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) UpdateSchedule(ctx context.Context, sc *DoctorSchedule) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	existing, err := s.schedules.ActiveForWeekday(ctx, sc.DoctorID, sc.Weekday)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID != sc.ID && e.Session == sc.Session && sc.Active {
			return ErrSessionOverlap
		}
	}
	return s.schedules.Update(ctx, sc)
}

func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error) {
	return s.schedules.ListByDoctor(ctx, doctorID)
}

// CreateLeave records a leave range. Existing appointments inside the range
// are left untouched; staff cancel them explicitly.
func (s *Service) CreateLeave(ctx context.Context, l *DoctorLeave) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if _, err := s.doctors.GetByID(ctx, l.DoctorID); err != nil {
		return err
	}
	l.Active = true
	if err := s.leaves.Create(ctx, l); err != nil {
		return err
	}
	s.log.Info().
		Str("leave_id", l.ID.String()).
		Str("doctor_id", l.DoctorID.String()).
		Time("start", l.StartDate).
		Time("end", l.EndDate).
		Msg("leave created")
	return nil
}

func (s *Service) CancelLeave(ctx context.Context, id uuid.UUID) error {
	return s.leaves.Cancel(ctx, id)
}

func (s *Service) ListLeaves(ctx context.Context, doctorID uuid.UUID) ([]*DoctorLeave, error) {
	return s.leaves.ListByDoctor(ctx, doctorID)
}

// OnLeave reports whether the doctor has an active leave covering the date.
func (s *Service) OnLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	l, err := s.leaves.Covering(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}
