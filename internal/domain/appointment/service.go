package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/api/internal/domain/schedule"
	"github.com/clinicore/api/internal/platform/lock"
)

var (
	ErrPastDate       = errors.New("date is in the past")
	ErrOutOfWindow    = errors.New("date is outside the booking window")
	ErrOnLeave        = errors.New("doctor is on leave")
	ErrInvalidSlot    = errors.New("time does not match an offerable slot")
	ErrNotCancellable = errors.New("appointment can no longer be cancelled")
)

// TxRunner runs fn inside a database transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// TicketMinter issues and retires visit tickets for appointments. Implemented
// by the queue service; both calls run inside the booking transaction.
type TicketMinter interface {
	MintTicket(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, date time.Time, at schedule.TimeOfDay) error
	VoidTicketForAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

// Service owns slot generation and the booking critical section.
type Service struct {
	repo       Repository
	schedules  schedule.ScheduleRepository
	leaves     schedule.LeaveRepository
	minter     TicketMinter
	locker     lock.Locker
	runTx      TxRunner
	engine     SlotEngine
	windowDays int
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(
	repo Repository,
	schedules schedule.ScheduleRepository,
	leaves schedule.LeaveRepository,
	minter TicketMinter,
	locker lock.Locker,
	runTx TxRunner,
	buffer time.Duration,
	windowDays int,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		schedules:  schedules,
		leaves:     leaves,
		minter:     minter,
		locker:     locker,
		runTx:      runTx,
		engine:     SlotEngine{Buffer: buffer},
		windowDays: windowDays,
		now:        time.Now,
		log:        log,
	}
}

// AvailableSlots returns the offerable slot times for a doctor-day.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]schedule.TimeOfDay, error) {
	onLeave, err := s.onLeave(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if onLeave {
		return nil, nil
	}
	sessions, err := s.schedules.ActiveForWeekday(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	taken, err := s.repo.TakenTimes(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return s.engine.Generate(sessions, taken, date, s.now()), nil
}

// BookRequest carries the booking input.
type BookRequest struct {
	PatientID uuid.UUID          `json:"patient_id"`
	DoctorID  uuid.UUID          `json:"doctor_id"`
	Date      time.Time          `json:"date"`
	Time      schedule.TimeOfDay `json:"time"`
	Note      string             `json:"note"`
}

// Book claims a slot and mints the visit ticket. Per-doctor-day work is
// serialized behind a distributed lock, and the slot set is re-derived inside
// the transaction so a slot that disappeared between offer and confirm is
// rejected rather than double-booked.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	date := schedule.DateOnly(req.Date)
	now := s.now()
	today := schedule.DateOnly(now)

	if date.Before(today) {
		return nil, ErrPastDate
	}
	if date.After(today.AddDate(0, 0, s.windowDays)) {
		return nil, ErrOutOfWindow
	}

	onLeave, err := s.onLeave(ctx, req.DoctorID, date)
	if err != nil {
		return nil, err
	}
	if onLeave {
		return nil, ErrOnLeave
	}

	sessions, err := s.schedules.ActiveForWeekday(ctx, req.DoctorID, date.Weekday())
	if err != nil {
		return nil, err
	}
	onGrid := false
	for _, sess := range sessions {
		if sess.Contains(req.Time) {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return nil, ErrInvalidSlot
	}

	var appt *Appointment
	err = s.locker.WithLock(ctx, lock.DoctorDayKey(req.DoctorID, date), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			taken, err := s.repo.TakenTimes(ctx, req.DoctorID, date)
			if err != nil {
				return err
			}
			open := s.engine.Generate(sessions, taken, date, now)
			if !containsSlot(open, req.Time) {
				return ErrSlotTaken
			}

			appt = &Appointment{
				ID:        uuid.New(),
				PatientID: req.PatientID,
				DoctorID:  req.DoctorID,
				Date:      date,
				Time:      req.Time,
				Status:    StatusBooked,
				Note:      req.Note,
			}
			if err := s.repo.Create(ctx, appt); err != nil {
				return err
			}
			return s.minter.MintTicket(ctx, appt.ID, appt.PatientID, appt.DoctorID, date, appt.Time)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Time("date", appt.Date).
		Str("time", appt.Time.String()).
		Msg("appointment booked")
	return appt, nil
}

// Cancel frees the slot and retires the visit ticket. Only booked
// appointments can be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if appt.Status != StatusBooked {
		return ErrNotCancellable
	}
	err = s.locker.WithLock(ctx, lock.DoctorDayKey(appt.DoctorID, appt.Date), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			if err := s.repo.SetStatus(ctx, id, StatusCancelled); err != nil {
				return err
			}
			return s.minter.VoidTicketForAppointment(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	return s.repo.ListByDoctorDate(ctx, doctorID, date)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// MirrorStatus reflects a queue outcome back onto the appointment. Used by
// the queue service when a visit finishes or is skipped.
func (s *Service) MirrorStatus(ctx context.Context, appointmentID uuid.UUID, status string) error {
	return s.repo.SetStatus(ctx, appointmentID, Status(status))
}

func (s *Service) onLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	l, err := s.leaves.Covering(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}

func containsSlot(slots []schedule.TimeOfDay, t schedule.TimeOfDay) bool {
	for _, s := range slots {
		if s == t {
			return true
		}
	}
	return false
}
