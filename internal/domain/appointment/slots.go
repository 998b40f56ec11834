package appointment

import (
	"time"

	"github.com/clinicore/api/internal/domain/schedule"
)

// SlotEngine derives offerable slot times for one doctor-day. It is pure:
// callers load the sessions and the taken set, the engine only walks the
// grid.
type SlotEngine struct {
	// Buffer is the same-day lead time. Slots at or before now+Buffer are
	// not offered when generating for today.
	Buffer time.Duration
}

// Generate walks each session's slot grid in start order and returns the
// times still open for booking.
//
// Within a session the walk stops once it has offered MaxPatients slots:
// the cap limits open offers, so a cancellation reopens capacity. Taken
// slots do not count toward the cap but still advance the cursor.
func (e SlotEngine) Generate(sessions []*schedule.DoctorSchedule, taken map[schedule.TimeOfDay]bool, date, now time.Time) []schedule.TimeOfDay {
	sameDay := schedule.DateOnly(date).Equal(schedule.DateOnly(now))
	cutoff := now.Add(e.Buffer)

	var slots []schedule.TimeOfDay
	for _, s := range sessions {
		offered := 0
		for cur := s.StartTime; cur < s.EndTime; cur += schedule.TimeOfDay(s.SlotMinutes) {
			// The cutoff itself is excluded: a slot exactly Buffer away
			// is too close to prepare for.
			if sameDay && !cur.At(date).After(cutoff) {
				continue
			}
			if !taken[cur] {
				slots = append(slots, cur)
				offered++
			}
			if offered >= s.MaxPatients {
				break
			}
		}
	}
	return slots
}
