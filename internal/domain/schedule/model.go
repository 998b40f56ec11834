package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a clock time expressed as minutes since midnight. Slot
// arithmetic is pure integer math, so there is no timezone ambiguity when
// comparing against booked times.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// FromClock builds a TimeOfDay from the wall-clock part of t.
func FromClock(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Minutes returns the value as minutes since midnight.
func (t TimeOfDay) Minutes() int { return int(t) }

// At anchors the time of day onto a calendar date.
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, date.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Doctor is the clinician registry entry shown on the calling board.
type Doctor struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Department string    `db:"department" json:"department"`
	Room       string    `db:"room" json:"room,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Session labels for a working day. A doctor may run several sessions on the
// same weekday, each with an independent capacity cap.
const (
	SessionMorning   = "AM"
	SessionAfternoon = "PM"
	SessionEvening   = "EV"
)

var validSessions = map[string]bool{
	SessionMorning:   true,
	SessionAfternoon: true,
	SessionEvening:   true,
}

// DoctorSchedule is one weekly recurring session for a doctor.
type DoctorSchedule struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	DoctorID    uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	Weekday     time.Weekday `db:"weekday" json:"weekday"`
	Session     string       `db:"session" json:"session"`
	StartTime   TimeOfDay    `db:"start_time" json:"start_time"`
	EndTime     TimeOfDay    `db:"end_time" json:"end_time"`
	SlotMinutes int          `db:"slot_minutes" json:"slot_minutes"`
	MaxPatients int          `db:"max_patients" json:"max_patients"`
	Active      bool         `db:"active" json:"active"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// Validate checks the session invariants.
func (s *DoctorSchedule) Validate() error {
	if s.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday: %d", s.Weekday)
	}
	if !validSessions[s.Session] {
		return fmt.Errorf("invalid session: %s", s.Session)
	}
	if s.StartTime >= s.EndTime {
		return fmt.Errorf("start_time must be before end_time")
	}
	if s.SlotMinutes <= 0 {
		return fmt.Errorf("slot_minutes must be positive")
	}
	if s.MaxPatients < 1 {
		return fmt.Errorf("max_patients must be at least 1")
	}
	return nil
}

// Contains reports whether t falls inside the session's half-open window and
// lands on a slot boundary.
func (s *DoctorSchedule) Contains(t TimeOfDay) bool {
	if t < s.StartTime || t >= s.EndTime {
		return false
	}
	return (t-s.StartTime)%TimeOfDay(s.SlotMinutes) == 0
}

// DoctorLeave blocks slot generation for every date in its inclusive range.
type DoctorLeave struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Validate checks the date range.
func (l *DoctorLeave) Validate() error {
	if l.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if l.EndDate.Before(l.StartDate) {
		return fmt.Errorf("end_date must not be before start_date")
	}
	return nil
}

// Covers reports whether the leave blocks the given date.
func (l *DoctorLeave) Covers(date time.Time) bool {
	if !l.Active {
		return false
	}
	d := DateOnly(date)
	return !d.Before(DateOnly(l.StartDate)) && !d.After(DateOnly(l.EndDate))
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
