package prescription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/api/internal/domain/inventory"
)

type mockRepo struct {
	prescriptions map[uuid.UUID]*Prescription
}

func newMockRepo() *mockRepo {
	return &mockRepo{prescriptions: make(map[uuid.UUID]*Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, item := range p.Items {
		item.PrescriptionID = p.ID
	}
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	p, ok := m.prescriptions[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockRepo) ListByDate(_ context.Context, date time.Time, statuses []Status) ([]*Prescription, error) {
	var out []*Prescription
	for _, p := range m.prescriptions {
		if !p.Date.Equal(date) {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if p.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.prescriptions {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

type allocation struct {
	drugID         uuid.UUID
	quantity       int
	treatmentDays  int
	prescriptionID *uuid.UUID
}

// mockAllocator holds per-drug available stock. CanAllocate checks it,
// Allocate consumes it. failWith, when set, is returned from both calls.
type mockAllocator struct {
	available   map[uuid.UUID]int
	allocations []allocation
	failWith    error
}

func newMockAllocator() *mockAllocator {
	return &mockAllocator{available: make(map[uuid.UUID]int)}
}

func (m *mockAllocator) CanAllocate(_ context.Context, drugID uuid.UUID, quantity, _ int) error {
	if m.failWith != nil {
		return m.failWith
	}
	if m.available[drugID] < quantity {
		return &inventory.ShortageError{DrugName: "mock drug", Missing: quantity - m.available[drugID]}
	}
	return nil
}

func (m *mockAllocator) Allocate(_ context.Context, drugID uuid.UUID, quantity, treatmentDays int, prescriptionID *uuid.UUID, _ string) error {
	if m.failWith != nil {
		return m.failWith
	}
	if m.available[drugID] < quantity {
		return &inventory.ShortageError{DrugName: "mock drug", Missing: quantity - m.available[drugID]}
	}
	m.available[drugID] -= quantity
	m.allocations = append(m.allocations, allocation{
		drugID:         drugID,
		quantity:       quantity,
		treatmentDays:  treatmentDays,
		prescriptionID: prescriptionID,
	})
	return nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockAllocator) {
	repo := newMockRepo()
	alloc := newMockAllocator()
	svc := NewService(repo, alloc, passthroughTx, zerolog.Nop())
	return svc, repo, alloc
}

func newRx(items ...*Item) *Prescription {
	return &Prescription{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		Items:     items,
	}
}

func TestCreateValidatesItems(t *testing.T) {
	svc, _, _ := newTestService()

	if err := svc.Create(context.Background(), newRx()); !errors.Is(err, ErrNoItems) {
		t.Errorf("expected ErrNoItems, got %v", err)
	}
	bad := newRx(&Item{DrugID: uuid.New(), Quantity: 0})
	if err := svc.Create(context.Background(), bad); err == nil {
		t.Error("expected error for zero quantity item")
	}
	ok := newRx(&Item{DrugID: uuid.New(), Quantity: 10, TreatmentDays: 7, Dose: "1 cap tid"})
	if err := svc.Create(context.Background(), ok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok.Status != StatusNew {
		t.Errorf("expected NEW, got %s", ok.Status)
	}
}

func TestDispenseAllocatesEveryItem(t *testing.T) {
	svc, _, alloc := newTestService()
	drugA, drugB := uuid.New(), uuid.New()
	alloc.available[drugA] = 100
	alloc.available[drugB] = 100

	rx := newRx(
		&Item{DrugID: drugA, Quantity: 21, TreatmentDays: 7},
		&Item{DrugID: drugB, Quantity: 14, TreatmentDays: 14},
	)
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); err != nil {
		t.Fatalf("Dispense: %v", err)
	}

	if len(alloc.allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(alloc.allocations))
	}
	for _, a := range alloc.allocations {
		if a.prescriptionID == nil || *a.prescriptionID != rx.ID {
			t.Errorf("allocation missing prescription reference: %+v", a)
		}
	}
	got, _ := svc.Get(context.Background(), rx.ID)
	if got.Status != StatusDispensed {
		t.Errorf("expected DISPENSED, got %s", got.Status)
	}
}

func TestDispenseShortageOnAnyItemBlocksAll(t *testing.T) {
	svc, _, alloc := newTestService()
	drugA, drugB := uuid.New(), uuid.New()
	alloc.available[drugA] = 100
	alloc.available[drugB] = 5 // not enough for the second line

	rx := newRx(
		&Item{DrugID: drugA, Quantity: 21, TreatmentDays: 7},
		&Item{DrugID: drugB, Quantity: 14, TreatmentDays: 14},
	)
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); err == nil {
		t.Fatal("expected dispense to fail on shortage")
	}

	// The preview catches the shortage before anything allocates.
	if len(alloc.allocations) != 0 {
		t.Errorf("no allocations should happen, got %+v", alloc.allocations)
	}
	if alloc.available[drugA] != 100 {
		t.Errorf("first drug stock must be untouched, got %d", alloc.available[drugA])
	}
	got, _ := svc.Get(context.Background(), rx.ID)
	if got.Status != StatusNew {
		t.Errorf("status must stay NEW after failed dispense, got %s", got.Status)
	}
}

func TestDispenseIsIdempotentGuarded(t *testing.T) {
	svc, _, alloc := newTestService()
	drug := uuid.New()
	alloc.available[drug] = 100

	rx := newRx(&Item{DrugID: drug, Quantity: 10, TreatmentDays: 5})
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); err != nil {
		t.Fatalf("Dispense: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); !errors.Is(err, ErrAlreadyDispensed) {
		t.Errorf("expected ErrAlreadyDispensed, got %v", err)
	}
	if len(alloc.allocations) != 1 {
		t.Errorf("stock must not be drawn twice, got %d allocations", len(alloc.allocations))
	}
}

func TestDispenseCancelledRejected(t *testing.T) {
	svc, _, alloc := newTestService()
	drug := uuid.New()
	alloc.available[drug] = 100

	rx := newRx(&Item{DrugID: drug, Quantity: 10, TreatmentDays: 5})
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Cancel(context.Background(), rx.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); !errors.Is(err, ErrNotDispensable) {
		t.Errorf("expected ErrNotDispensable, got %v", err)
	}
}

func TestReadyFlow(t *testing.T) {
	svc, _, alloc := newTestService()
	drug := uuid.New()
	alloc.available[drug] = 100

	rx := newRx(&Item{DrugID: drug, Quantity: 10, TreatmentDays: 5})
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.MarkReady(context.Background(), rx.ID); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if err := svc.MarkReady(context.Background(), rx.ID); !errors.Is(err, ErrNotDispensable) {
		t.Errorf("expected ErrNotDispensable on double ready, got %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); err != nil {
		t.Errorf("Dispense from READY: %v", err)
	}
}

func TestCancelDispensedRejected(t *testing.T) {
	svc, _, alloc := newTestService()
	drug := uuid.New()
	alloc.available[drug] = 100

	rx := newRx(&Item{DrugID: drug, Quantity: 10, TreatmentDays: 5})
	if err := svc.Create(context.Background(), rx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Dispense(context.Background(), rx.ID, "pharm"); err != nil {
		t.Fatalf("Dispense: %v", err)
	}
	if err := svc.Cancel(context.Background(), rx.ID); !errors.Is(err, ErrAlreadyDispensed) {
		t.Errorf("expected ErrAlreadyDispensed, got %v", err)
	}
}
