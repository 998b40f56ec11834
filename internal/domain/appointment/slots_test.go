package appointment

import (
	"testing"
	"time"

	"github.com/clinicore/api/internal/domain/schedule"
)

func tod(h, m int) schedule.TimeOfDay { return schedule.TimeOfDay(h*60 + m) }

func session(start, end schedule.TimeOfDay, slotMin, maxPatients int) *schedule.DoctorSchedule {
	return &schedule.DoctorSchedule{
		StartTime:   start,
		EndTime:     end,
		SlotMinutes: slotMin,
		MaxPatients: maxPatients,
		Active:      true,
	}
}

var futureDate = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC) // a Monday

func TestGenerateWalksSessionsInOrder(t *testing.T) {
	e := SlotEngine{Buffer: 30 * time.Minute}
	sessions := []*schedule.DoctorSchedule{
		session(tod(9, 0), tod(10, 0), 20, 10),
		session(tod(14, 0), tod(15, 0), 30, 10),
	}
	now := futureDate.AddDate(0, 0, -3)

	slots := e.Generate(sessions, nil, futureDate, now)
	want := []schedule.TimeOfDay{tod(9, 0), tod(9, 20), tod(9, 40), tod(14, 0), tod(14, 30)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, w := range want {
		if slots[i] != w {
			t.Errorf("slot %d: expected %s, got %s", i, w, slots[i])
		}
	}
}

func TestGenerateEndIsExclusive(t *testing.T) {
	e := SlotEngine{}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(9, 30), 15, 10)}
	now := futureDate.AddDate(0, 0, -1)

	slots := e.Generate(sessions, nil, futureDate, now)
	for _, s := range slots {
		if s >= tod(9, 30) {
			t.Errorf("slot %s at or past session end", s)
		}
	}
	if len(slots) != 2 {
		t.Errorf("expected slots 09:00 and 09:15, got %v", slots)
	}
}

func TestGenerateSkipsTakenSlots(t *testing.T) {
	e := SlotEngine{}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(10, 0), 15, 10)}
	taken := map[schedule.TimeOfDay]bool{tod(9, 15): true, tod(9, 45): true}
	now := futureDate.AddDate(0, 0, -1)

	slots := e.Generate(sessions, taken, futureDate, now)
	want := []schedule.TimeOfDay{tod(9, 0), tod(9, 30)}
	if len(slots) != 2 || slots[0] != want[0] || slots[1] != want[1] {
		t.Errorf("expected %v, got %v", want, slots)
	}
}

func TestGenerateCapCountsOffersNotTaken(t *testing.T) {
	// Taken slots advance the cursor without consuming the cap, so a full
	// grid still yields MaxPatients open offers when room remains.
	e := SlotEngine{}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(12, 0), 15, 2)}
	taken := map[schedule.TimeOfDay]bool{tod(9, 0): true, tod(9, 15): true}
	now := futureDate.AddDate(0, 0, -1)

	slots := e.Generate(sessions, taken, futureDate, now)
	want := []schedule.TimeOfDay{tod(9, 30), tod(9, 45)}
	if len(slots) != 2 || slots[0] != want[0] || slots[1] != want[1] {
		t.Errorf("expected %v, got %v", want, slots)
	}
}

func TestGenerateCapStopsSession(t *testing.T) {
	e := SlotEngine{}
	sessions := []*schedule.DoctorSchedule{
		session(tod(9, 0), tod(12, 0), 15, 3),
		session(tod(14, 0), tod(15, 0), 30, 1),
	}
	now := futureDate.AddDate(0, 0, -1)

	slots := e.Generate(sessions, nil, futureDate, now)
	// 3 from the morning session, 1 from the afternoon.
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d: %v", len(slots), slots)
	}
	if slots[3] != tod(14, 0) {
		t.Errorf("afternoon cap should stop after 14:00, got %v", slots)
	}
}

func TestGenerateSameDayBuffer(t *testing.T) {
	e := SlotEngine{Buffer: 30 * time.Minute}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(11, 0), 30, 10)}
	// Now is 09:00 on the requested day: 09:00 and 09:30 fall at or inside
	// the 30-minute buffer and are excluded; 10:00 is the first offer.
	now := time.Date(futureDate.Year(), futureDate.Month(), futureDate.Day(), 9, 0, 0, 0, time.UTC)

	slots := e.Generate(sessions, nil, futureDate, now)
	want := []schedule.TimeOfDay{tod(10, 0), tod(10, 30)}
	if len(slots) != 2 || slots[0] != want[0] || slots[1] != want[1] {
		t.Errorf("expected %v, got %v", want, slots)
	}
}

func TestGenerateBufferOnlyAppliesSameDay(t *testing.T) {
	e := SlotEngine{Buffer: 30 * time.Minute}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(10, 0), 30, 10)}
	// Same clock time but the day before the requested date.
	now := time.Date(2026, 9, 6, 23, 0, 0, 0, time.UTC)

	slots := e.Generate(sessions, nil, futureDate, now)
	if len(slots) != 2 {
		t.Errorf("buffer must not trim future days, got %v", slots)
	}
}

func TestGenerateCancellationReopensSlot(t *testing.T) {
	e := SlotEngine{}
	sessions := []*schedule.DoctorSchedule{session(tod(9, 0), tod(10, 0), 30, 2)}
	now := futureDate.AddDate(0, 0, -1)

	full := map[schedule.TimeOfDay]bool{tod(9, 0): true, tod(9, 30): true}
	if got := e.Generate(sessions, full, futureDate, now); len(got) != 0 {
		t.Fatalf("expected no slots when grid is full, got %v", got)
	}

	// Cancelling 09:30 removes it from the taken set and it is offered again.
	reopened := map[schedule.TimeOfDay]bool{tod(9, 0): true}
	got := e.Generate(sessions, reopened, futureDate, now)
	if len(got) != 1 || got[0] != tod(9, 30) {
		t.Errorf("expected reopened 09:30, got %v", got)
	}
}
