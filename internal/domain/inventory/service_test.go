package inventory

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/api/internal/platform/lock"
)

type mockDrugRepo struct {
	drugs   map[uuid.UUID]*Drug
	codeSeq int
}

func newMockDrugRepo() *mockDrugRepo {
	return &mockDrugRepo{drugs: make(map[uuid.UUID]*Drug)}
}

func (m *mockDrugRepo) Create(_ context.Context, d *Drug) error {
	for _, other := range m.drugs {
		if other.Code == d.Code {
			return ErrCodeTaken
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.drugs[d.ID] = &cp
	return nil
}

func (m *mockDrugRepo) GetByID(_ context.Context, id uuid.UUID) (*Drug, error) {
	d, ok := m.drugs[id]
	if !ok {
		return nil, ErrDrugNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDrugRepo) GetByCode(_ context.Context, code string) (*Drug, error) {
	for _, d := range m.drugs {
		if d.Code == code {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDrugNotFound
}

func (m *mockDrugRepo) Update(_ context.Context, d *Drug) error {
	cur, ok := m.drugs[d.ID]
	if !ok {
		return ErrDrugNotFound
	}
	stock := cur.StockQuantity
	cp := *d
	cp.StockQuantity = stock
	m.drugs[d.ID] = &cp
	return nil
}

func (m *mockDrugRepo) List(_ context.Context, activeOnly bool, _, _ int) ([]*Drug, int, error) {
	var out []*Drug
	for _, d := range m.drugs {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockDrugRepo) ListLowStock(_ context.Context) ([]*Drug, error) {
	var out []*Drug
	for _, d := range m.drugs {
		if d.Active && d.LowStock() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDrugRepo) SetStockQuantity(_ context.Context, id uuid.UUID, quantity int) error {
	d, ok := m.drugs[id]
	if !ok {
		return ErrDrugNotFound
	}
	d.StockQuantity = quantity
	return nil
}

func (m *mockDrugRepo) NextCodeNumber(_ context.Context) (int, error) {
	m.codeSeq++
	return m.codeSeq, nil
}

type mockBatchRepo struct {
	batches  map[uuid.UUID]*StockBatch
	batchSeq int
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[uuid.UUID]*StockBatch)}
}

func (m *mockBatchRepo) Create(_ context.Context, b *StockBatch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id uuid.UUID) (*StockBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBatchRepo) Update(_ context.Context, b *StockBatch) error {
	if _, ok := m.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchRepo) ListByDrug(_ context.Context, drugID uuid.UUID) ([]*StockBatch, error) {
	var out []*StockBatch
	for _, b := range m.batches {
		if b.DrugID == drugID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (m *mockBatchRepo) Eligible(_ context.Context, drugID uuid.UUID, minExpiry time.Time) ([]*StockBatch, error) {
	var out []*StockBatch
	for _, b := range m.batches {
		if b.DrugID == drugID && b.Status == BatchNormal && b.Quantity > 0 && !b.ExpiryDate.Before(minExpiry) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockBatchRepo) SumQuantities(_ context.Context, drugID uuid.UUID) (int, error) {
	total := 0
	for _, b := range m.batches {
		if b.DrugID == drugID {
			total += b.Quantity
		}
	}
	return total, nil
}

func (m *mockBatchRepo) NextBatchNumber(_ context.Context) (int, error) {
	m.batchSeq++
	return m.batchSeq, nil
}

type mockTxnRepo struct {
	txns []*StockTransaction
}

func (m *mockTxnRepo) Insert(_ context.Context, t *StockTransaction) error {
	cp := *t
	m.txns = append(m.txns, &cp)
	return nil
}

func (m *mockTxnRepo) ListByDrug(_ context.Context, drugID uuid.UUID, _, _ int) ([]*StockTransaction, int, error) {
	var out []*StockTransaction
	for _, t := range m.txns {
		if t.DrugID == drugID {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (m *mockTxnRepo) SumChanges(_ context.Context, drugID uuid.UUID) (int, error) {
	total := 0
	for _, t := range m.txns {
		if t.DrugID == drugID {
			total += t.Change
		}
	}
	return total, nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc     *Service
	drugs   *mockDrugRepo
	batches *mockBatchRepo
	txns    *mockTxnRepo
	today   time.Time
}

func newFixture(t *testing.T, minValidDays int) *fixture {
	t.Helper()
	drugs := newMockDrugRepo()
	batches := newMockBatchRepo()
	txns := &mockTxnRepo{}
	svc := NewService(drugs, batches, txns, lock.NoopLocker{}, passthroughTx, minValidDays, zerolog.Nop())
	today := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return today }
	return &fixture{svc: svc, drugs: drugs, batches: batches, txns: txns, today: today}
}

func (f *fixture) seedDrug(t *testing.T) *Drug {
	t.Helper()
	d := &Drug{Name: "Amoxicillin", Unit: "cap", ReorderLevel: 50}
	if err := f.svc.CreateDrug(context.Background(), d); err != nil {
		t.Fatalf("CreateDrug: %v", err)
	}
	return d
}

func (f *fixture) seedBatch(t *testing.T, drugID uuid.UUID, qty, daysToExpiry int) *StockBatch {
	t.Helper()
	b, err := f.svc.StockIn(context.Background(), drugID, qty,
		f.today.AddDate(0, 0, daysToExpiry), "", "tester")
	if err != nil {
		t.Fatalf("StockIn: %v", err)
	}
	return b
}

// conservation asserts the ledger invariant: the sum of all changes equals
// the sum of batch quantities equals the cached drug total.
func (f *fixture) conservation(t *testing.T, drugID uuid.UUID) {
	t.Helper()
	ledgerSum, _ := f.txns.SumChanges(context.Background(), drugID)
	batchSum, _ := f.batches.SumQuantities(context.Background(), drugID)
	drug, _ := f.drugs.GetByID(context.Background(), drugID)
	if ledgerSum != batchSum || batchSum != drug.StockQuantity {
		t.Errorf("conservation broken: ledger=%d batches=%d cache=%d", ledgerSum, batchSum, drug.StockQuantity)
	}
}

func TestCreateDrugAutoCode(t *testing.T) {
	f := newFixture(t, 0)
	first := f.seedDrug(t)
	if first.Code != "DRG0001" {
		t.Errorf("expected DRG0001, got %s", first.Code)
	}
	second := &Drug{Name: "Ibuprofen", Unit: "tab"}
	if err := f.svc.CreateDrug(context.Background(), second); err != nil {
		t.Fatalf("CreateDrug: %v", err)
	}
	if second.Code != "DRG0002" {
		t.Errorf("expected DRG0002, got %s", second.Code)
	}
	// An explicit code is kept as-is.
	custom := &Drug{Name: "Aspirin", Unit: "tab", Code: "ASP-100"}
	if err := f.svc.CreateDrug(context.Background(), custom); err != nil {
		t.Fatalf("CreateDrug: %v", err)
	}
	if custom.Code != "ASP-100" {
		t.Errorf("explicit code overwritten: %s", custom.Code)
	}
}

func TestStockInCreatesBatchAndLedgerEntry(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	batch := f.seedBatch(t, drug.ID, 100, 365)

	if batch.BatchNo != "B20260830-0001" {
		t.Errorf("unexpected batch number: %s", batch.BatchNo)
	}
	if batch.Quantity != 100 || batch.Status != BatchNormal {
		t.Errorf("unexpected batch state: %+v", batch)
	}
	refreshed, _ := f.svc.GetDrug(context.Background(), drug.ID)
	if refreshed.StockQuantity != 100 {
		t.Errorf("cache not refreshed: %d", refreshed.StockQuantity)
	}
	f.conservation(t, drug.ID)
}

func TestAllocateFEFOOrder(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	late := f.seedBatch(t, drug.ID, 50, 300)
	early := f.seedBatch(t, drug.ID, 30, 60)

	err := f.svc.Allocate(context.Background(), drug.ID, 40, 0, nil, "pharm")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// The earlier expiry drains first, the remainder comes off the later
	// batch.
	gotEarly, _ := f.batches.GetByID(context.Background(), early.ID)
	gotLate, _ := f.batches.GetByID(context.Background(), late.ID)
	if gotEarly.Quantity != 0 {
		t.Errorf("early batch should be drained, has %d", gotEarly.Quantity)
	}
	if gotLate.Quantity != 40 {
		t.Errorf("late batch should hold 40, has %d", gotLate.Quantity)
	}
	f.conservation(t, drug.ID)
}

func TestAllocateSpansBatchesWithOneEntryEach(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	f.seedBatch(t, drug.ID, 10, 30)
	f.seedBatch(t, drug.ID, 10, 60)
	f.seedBatch(t, drug.ID, 10, 90)

	if err := f.svc.Allocate(context.Background(), drug.ID, 25, 0, nil, "pharm"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	dispenses := 0
	for _, txn := range f.txns.txns {
		if txn.Reason == ReasonDispense {
			dispenses++
		}
	}
	if dispenses != 3 {
		t.Errorf("expected 3 dispense entries, got %d", dispenses)
	}
	f.conservation(t, drug.ID)
}

func TestAllocateShortageLeavesNothingChanged(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	f.seedBatch(t, drug.ID, 10, 60)

	err := f.svc.Allocate(context.Background(), drug.ID, 25, 0, nil, "pharm")
	var shortage *ShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected ShortageError, got %v", err)
	}
	if shortage.Missing != 15 {
		t.Errorf("expected missing 15, got %d", shortage.Missing)
	}

	// No dispense entry written, batch untouched.
	for _, txn := range f.txns.txns {
		if txn.Reason == ReasonDispense {
			t.Error("shortage must not write dispense entries")
		}
	}
	d, _ := f.svc.GetDrug(context.Background(), drug.ID)
	if d.StockQuantity != 10 {
		t.Errorf("stock changed on shortage: %d", d.StockQuantity)
	}
}

func TestAllocateExcludesShortDatedBatches(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	f.seedBatch(t, drug.ID, 100, 5) // expires before the treatment ends

	err := f.svc.Allocate(context.Background(), drug.ID, 10, 14, nil, "pharm")
	var shortage *ShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected ShortageError for short-dated stock, got %v", err)
	}
	if shortage.Missing != 10 {
		t.Errorf("expected missing 10, got %d", shortage.Missing)
	}
}

func TestAllocateBoundaryExpiryIsEligible(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	// Expiry exactly at today+treatment_days is acceptable.
	f.seedBatch(t, drug.ID, 10, 14)
	if err := f.svc.Allocate(context.Background(), drug.ID, 5, 14, nil, "pharm"); err != nil {
		t.Errorf("boundary expiry should be eligible: %v", err)
	}
}

func TestAllocateAppliesMinValidDaysFloor(t *testing.T) {
	f := newFixture(t, 30)
	drug := f.seedDrug(t)
	f.seedBatch(t, drug.ID, 10, 20) // outlives the 7-day treatment but not the floor

	err := f.svc.Allocate(context.Background(), drug.ID, 5, 7, nil, "pharm")
	var shortage *ShortageError
	if !errors.As(err, &shortage) {
		t.Errorf("expected floor to exclude the batch, got %v", err)
	}
}

func TestAllocateSkipsQuarantinedBatches(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	quarantined := f.seedBatch(t, drug.ID, 100, 365)
	f.seedBatch(t, drug.ID, 20, 400)

	if _, err := f.svc.QuarantineBatch(context.Background(), quarantined.ID, "recall", "", "pharm"); err != nil {
		t.Fatalf("QuarantineBatch: %v", err)
	}
	err := f.svc.Allocate(context.Background(), drug.ID, 50, 0, nil, "pharm")
	var shortage *ShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("quarantined stock must not dispense, got %v", err)
	}
	if shortage.Missing != 30 {
		t.Errorf("expected missing 30, got %d", shortage.Missing)
	}
}

func TestCanAllocateMatchesAllocate(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	f.seedBatch(t, drug.ID, 10, 60)

	if err := f.svc.CanAllocate(context.Background(), drug.ID, 10, 0); err != nil {
		t.Errorf("CanAllocate for coverable quantity: %v", err)
	}
	err := f.svc.CanAllocate(context.Background(), drug.ID, 11, 0)
	var shortage *ShortageError
	if !errors.As(err, &shortage) {
		t.Errorf("expected ShortageError, got %v", err)
	}
}

func TestDestroyBatchRetiresAtZero(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	batch := f.seedBatch(t, drug.ID, 30, 365)

	partial, err := f.svc.DestroyBatch(context.Background(), batch.ID, 10, "damaged", "pharm")
	if err != nil {
		t.Fatalf("DestroyBatch: %v", err)
	}
	if partial.Quantity != 20 || partial.Status != BatchNormal {
		t.Errorf("partial destroy should keep status NORMAL: %+v", partial)
	}

	// Zero quantity means destroy the remainder.
	full, err := f.svc.DestroyBatch(context.Background(), batch.ID, 0, "expired", "pharm")
	if err != nil {
		t.Fatalf("full DestroyBatch: %v", err)
	}
	if full.Quantity != 0 || full.Status != BatchDestroyed {
		t.Errorf("drained batch should be DESTROYED: %+v", full)
	}
	f.conservation(t, drug.ID)
}

func TestDestroyRejectsOverdraw(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	batch := f.seedBatch(t, drug.ID, 5, 365)
	if _, err := f.svc.DestroyBatch(context.Background(), batch.ID, 6, "", "pharm"); err == nil {
		t.Error("expected error destroying more than the batch holds")
	}
}

func TestQuarantineKeepsQuantityWritesZeroEntry(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	batch := f.seedBatch(t, drug.ID, 40, 365)

	q, err := f.svc.QuarantineBatch(context.Background(), batch.ID, "supplier recall", "lot check", "pharm")
	if err != nil {
		t.Fatalf("QuarantineBatch: %v", err)
	}
	if q.Status != BatchQuarantine || q.Quantity != 40 {
		t.Errorf("quarantine must keep quantity: %+v", q)
	}
	last := f.txns.txns[len(f.txns.txns)-1]
	if last.Change != 0 || last.Reason != ReasonAdjust {
		t.Errorf("expected zero-change adjust entry, got %+v", last)
	}

	back, err := f.svc.UnquarantineBatch(context.Background(), batch.ID, "", "pharm")
	if err != nil {
		t.Fatalf("UnquarantineBatch: %v", err)
	}
	if back.Status != BatchNormal || back.QuarantineReason != "" {
		t.Errorf("release should clear quarantine fields: %+v", back)
	}
	f.conservation(t, drug.ID)
}

func TestReturnToBatch(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t)
	batch := f.seedBatch(t, drug.ID, 50, 365)
	if err := f.svc.Allocate(context.Background(), drug.ID, 20, 0, nil, "pharm"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	returned, err := f.svc.ReturnToBatch(context.Background(), batch.ID, 5, "patient return", "pharm")
	if err != nil {
		t.Fatalf("ReturnToBatch: %v", err)
	}
	if returned.Quantity != 35 {
		t.Errorf("expected 35 after return, got %d", returned.Quantity)
	}
	f.conservation(t, drug.ID)
}

func TestLowStockListing(t *testing.T) {
	f := newFixture(t, 0)
	drug := f.seedDrug(t) // reorder level 50
	f.seedBatch(t, drug.ID, 60, 365)

	low, err := f.svc.ListLowStock(context.Background())
	if err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if len(low) != 0 {
		t.Errorf("expected no low-stock drugs at 60/50, got %d", len(low))
	}

	if err := f.svc.Allocate(context.Background(), drug.ID, 15, 0, nil, "pharm"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	low, err = f.svc.ListLowStock(context.Background())
	if err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if len(low) != 1 || low[0].ID != drug.ID {
		t.Errorf("expected the drug below its reorder level, got %+v", low)
	}
}
