package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDoctorDayKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	date := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

	key := DoctorDayKey(id, date)
	want := "lock:doctor:11111111-2222-3333-4444-555555555555:2025-06-01"
	if key != want {
		t.Errorf("expected %q, got %q", want, key)
	}
}

func TestDrugKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	key := DrugKey(id)
	want := "lock:drug:11111111-2222-3333-4444-555555555555"
	if key != want {
		t.Errorf("expected %q, got %q", want, key)
	}
}

func TestNoopLocker_RunsFn(t *testing.T) {
	var locker Locker = NoopLocker{}
	called := false
	err := locker.WithLock(context.Background(), "any", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to run")
	}
}
