package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/api/internal/domain/schedule"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusCalling Status = "CALLING"
	StatusInRoom  Status = "IN_ROOM"
	StatusDone    Status = "DONE"
	StatusNoShow  Status = "NO_SHOW"
)

var ErrBadTransition = errors.New("invalid ticket state transition")

// Ticket is one position in a doctor's daily calling queue. Numbers are
// unique per (doctor, date) and are kept contiguous from 1 by renumbering
// after every insert or removal.
//
// ApptTime is the linked appointment's slot time, carried on the ticket so
// canonical ordering does not need a join in memory. Walk-in tickets have no
// appointment and sort after all timed tickets.
type Ticket struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	AppointmentID *uuid.UUID          `db:"appointment_id" json:"appointment_id,omitempty"`
	PatientID     uuid.UUID           `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID           `db:"doctor_id" json:"doctor_id"`
	Date          time.Time           `db:"date" json:"date"`
	Number        int                 `db:"number" json:"number"`
	Status        Status              `db:"status" json:"status"`
	IsSkipped     bool                `db:"is_skipped" json:"is_skipped"`
	CallCount     int                 `db:"call_count" json:"call_count"`
	ApptTime      *schedule.TimeOfDay `db:"appt_minute" json:"appt_time,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	CalledAt      *time.Time          `db:"called_at" json:"called_at,omitempty"`
	FinishedAt    *time.Time          `db:"finished_at" json:"finished_at,omitempty"`
}

// markCalled moves the ticket to CALLING. called_at is set on the first
// call and left alone on later promotions from WAITING.
func (t *Ticket) markCalled(now time.Time) {
	t.Status = StatusCalling
	t.CallCount++
	if t.CalledAt == nil {
		t.CalledAt = &now
	}
}

// markFinished moves the ticket to DONE. finished_at is set once.
func (t *Ticket) markFinished(now time.Time) {
	t.Status = StatusDone
	if t.FinishedAt == nil {
		t.FinishedAt = &now
	}
}

// markNoShow records a skipped patient.
func (t *Ticket) markNoShow(now time.Time) {
	t.Status = StatusNoShow
	t.IsSkipped = true
	if t.FinishedAt == nil {
		t.FinishedAt = &now
	}
}

// Open reports whether the ticket still occupies the queue.
func (t *Ticket) Open() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalling || t.Status == StatusInRoom
}
