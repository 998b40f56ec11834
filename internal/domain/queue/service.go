package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/api/internal/domain/schedule"
	"github.com/clinicore/api/internal/platform/lock"
)

var ErrNoneWaiting = errors.New("no waiting ticket")

// tempBase is the parking range used during renumbering. Real numbers stay
// small (a clinic day is tens of tickets), so moving every ticket above the
// base first guarantees phase two never collides with a live number.
const tempBase = 1000

// TxRunner runs fn inside a database transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// AppointmentMirror reflects queue outcomes onto the linked appointment.
// Implemented by the appointment service.
type AppointmentMirror interface {
	MirrorStatus(ctx context.Context, appointmentID uuid.UUID, status string) error
}

// Service owns ticket numbering and the calling-state machine.
type Service struct {
	repo    Repository
	doctors schedule.DoctorRepository
	mirror  AppointmentMirror
	locker  lock.Locker
	runTx   TxRunner
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(repo Repository, doctors schedule.DoctorRepository, mirror AppointmentMirror, locker lock.Locker, runTx TxRunner, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		doctors: doctors,
		mirror:  mirror,
		locker:  locker,
		runTx:   runTx,
		now:     time.Now,
		log:     log,
	}
}

// SetMirror binds the appointment mirror after construction. The queue and
// appointment services reference each other, so one side is wired late.
func (s *Service) SetMirror(m AppointmentMirror) {
	s.mirror = m
}

// MintTicket issues the next number for a freshly booked appointment and
// renumbers the day so positions follow appointment times. Called inside the
// booking transaction.
func (s *Service) MintTicket(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, date time.Time, at schedule.TimeOfDay) error {
	max, err := s.repo.MaxNumber(ctx, doctorID, date)
	if err != nil {
		return err
	}
	apptID := appointmentID
	apptTime := at
	t := &Ticket{
		ID:            uuid.New(),
		AppointmentID: &apptID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Date:          schedule.DateOnly(date),
		Number:        max + 1,
		Status:        StatusWaiting,
		ApptTime:      &apptTime,
		CreatedAt:     s.now(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return err
	}
	return s.renumber(ctx, doctorID, date)
}

// VoidTicketForAppointment removes the ticket of a cancelled appointment and
// closes the numbering gap. Called inside the cancellation transaction.
func (s *Service) VoidTicketForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	t, err := s.repo.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, t.ID); err != nil {
		return err
	}
	return s.renumber(ctx, t.DoctorID, t.Date)
}

// CreateWalkIn issues a ticket with no appointment. Walk-ins order after all
// timed tickets for the day. The doctor-day lock covers the renumber so a
// concurrent booking cannot interleave its own renumbering pass.
func (s *Service) CreateWalkIn(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*Ticket, error) {
	var out *Ticket
	err := s.locker.WithLock(ctx, lock.DoctorDayKey(doctorID, date), func(ctx context.Context) error {
		return s.runTx(ctx, func(ctx context.Context) error {
			max, err := s.repo.MaxNumber(ctx, doctorID, date)
			if err != nil {
				return err
			}
			t := &Ticket{
				ID:        uuid.New(),
				PatientID: patientID,
				DoctorID:  doctorID,
				Date:      schedule.DateOnly(date),
				Number:    max + 1,
				Status:    StatusWaiting,
				CreatedAt: s.now(),
			}
			if err := s.repo.Create(ctx, t); err != nil {
				return err
			}
			if err := s.renumber(ctx, doctorID, date); err != nil {
				return err
			}
			out, err = s.repo.GetByID(ctx, t.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("ticket_id", out.ID.String()).
		Str("doctor_id", doctorID.String()).
		Int("number", out.Number).
		Msg("walk-in ticket issued")
	return out, nil
}

// renumber reassigns numbers 1..N following canonical order. Phase one moves
// every ticket into the parking range above tempBase, phase two assigns the
// final numbers; the unique (doctor, date, number) constraint holds at every
// intermediate statement.
func (s *Service) renumber(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	tickets, err := s.repo.ListForDay(ctx, doctorID, date)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	for i, t := range tickets {
		temp := tempBase + i + 1
		if t.Number != temp {
			if err := s.repo.UpdateNumber(ctx, t.ID, temp); err != nil {
				return fmt.Errorf("renumber phase 1 ticket %s: %w", t.ID, err)
			}
		}
	}
	for i, t := range tickets {
		final := i + 1
		if err := s.repo.UpdateNumber(ctx, t.ID, final); err != nil {
			return fmt.Errorf("renumber phase 2 ticket %s: %w", t.ID, err)
		}
	}
	return nil
}

// CallNext demotes any currently calling ticket back to WAITING and calls
// the first waiting ticket in canonical order.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Ticket, error) {
	var called *Ticket
	err := s.runTx(ctx, func(ctx context.Context) error {
		next, err := s.repo.FirstWaiting(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if next == nil {
			return ErrNoneWaiting
		}
		if err := s.repo.DemoteCalling(ctx, doctorID, date); err != nil {
			return err
		}
		next.markCalled(s.now())
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		called = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("ticket_id", called.ID.String()).
		Int("number", called.Number).
		Msg("ticket called")
	return called, nil
}

// Recall brings a skipped patient back to CALLING, or announces the current
// ticket again. Any other CALLING ticket is demoted first; called_at is
// refreshed to the recall time.
func (s *Service) Recall(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	var out *Ticket
	err := s.runTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusNoShow && t.Status != StatusCalling {
			return ErrBadTransition
		}
		if err := s.repo.DemoteCalling(ctx, t.DoctorID, t.Date); err != nil {
			return err
		}
		wasNoShow := t.Status == StatusNoShow
		now := s.now()
		t.Status = StatusCalling
		t.CallCount++
		t.CalledAt = &now
		t.FinishedAt = nil
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		if wasNoShow && t.AppointmentID != nil {
			if err := s.mirror.MirrorStatus(ctx, *t.AppointmentID, "BOOKED"); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartVisit moves a called patient into the room.
func (s *Service) StartVisit(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCalling {
		return nil, ErrBadTransition
	}
	t.Status = StatusInRoom
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Finish completes a visit and mirrors DONE onto the appointment. Finishing
// an already finished ticket is a no-op.
func (s *Service) Finish(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	var out *Ticket
	err := s.runTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusDone {
			out = t
			return nil
		}
		if t.Status != StatusCalling && t.Status != StatusInRoom {
			return ErrBadTransition
		}
		t.markFinished(s.now())
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		if t.AppointmentID != nil {
			if err := s.mirror.MirrorStatus(ctx, *t.AppointmentID, "DONE"); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticket_id", id.String()).Msg("visit finished")
	return out, nil
}

// Skip marks the calling patient as a no-show, mirrors it onto the
// appointment, and immediately calls the next waiting ticket. The returned
// ticket is the newly called one, nil when the queue ran dry.
func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	var next *Ticket
	err := s.runTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusCalling {
			return ErrBadTransition
		}
		t.markNoShow(s.now())
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		if t.AppointmentID != nil {
			if err := s.mirror.MirrorStatus(ctx, *t.AppointmentID, "NO_SHOW"); err != nil {
				return err
			}
		}
		n, err := s.repo.FirstWaiting(ctx, t.DoctorID, t.Date)
		if err != nil {
			return err
		}
		if n != nil {
			n.markCalled(s.now())
			if err := s.repo.Update(ctx, n); err != nil {
				return err
			}
			next = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticket_id", id.String()).Msg("ticket skipped")
	return next, nil
}

// Requeue puts a skipped patient back at the end of the waiting line. The
// skip mark stays so staff can see the history; the linked appointment is
// restored to BOOKED.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	var out *Ticket
	err := s.runTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusNoShow {
			return ErrBadTransition
		}
		t.Status = StatusWaiting
		t.FinishedAt = nil
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		if t.AppointmentID != nil {
			if err := s.mirror.MirrorStatus(ctx, *t.AppointmentID, "BOOKED"); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Ticket, error) {
	return s.repo.ListForDay(ctx, doctorID, date)
}

// DisplayBoard is the public waiting-room snapshot for one doctor.
type DisplayBoard struct {
	Doctor    BoardDoctor `json:"doctor"`
	Current   *Ticket     `json:"current"`
	Next      *Ticket     `json:"next"`
	LastDone  *Ticket     `json:"last_done"`
	Timestamp time.Time   `json:"timestamp"`
}

type BoardDoctor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Room       string    `json:"room"`
}

// Display builds the waiting-room board: the ticket being called (or the
// head of the line when nobody is), the next waiting ticket after it, and
// the last finished number.
func (s *Service) Display(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DisplayBoard, error) {
	doc, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.CurrentCalling(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	next, err := s.repo.FirstWaiting(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = next
		next = nil
	}
	lastDone, err := s.repo.LastDone(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return &DisplayBoard{
		Doctor: BoardDoctor{
			ID:         doc.ID,
			Name:       doc.Name,
			Department: doc.Department,
			Room:       doc.Room,
		},
		Current:   current,
		Next:      next,
		LastDone:  lastDone,
		Timestamp: s.now(),
	}, nil
}
