package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyDispensed = errors.New("prescription already dispensed")
	ErrNotDispensable   = errors.New("prescription cannot be dispensed in its current status")
	ErrNoItems          = errors.New("prescription has no items")
)

// TxRunner runs fn inside a database transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// StockAllocator is the pharmacy's view of inventory. Implemented by the
// inventory service; Allocate joins the transaction on the context.
type StockAllocator interface {
	CanAllocate(ctx context.Context, drugID uuid.UUID, quantity, treatmentDays int) error
	Allocate(ctx context.Context, drugID uuid.UUID, quantity, treatmentDays int, prescriptionID *uuid.UUID, operator string) error
}

// Service owns the prescription lifecycle and the all-or-nothing dispense.
type Service struct {
	repo  Repository
	stock StockAllocator
	runTx TxRunner
	log   zerolog.Logger
}

func NewService(repo Repository, stock StockAllocator, runTx TxRunner, log zerolog.Logger) *Service {
	return &Service{repo: repo, stock: stock, runTx: runTx, log: log}
}

// Create records a new prescription with its items.
func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil || p.DoctorID == uuid.Nil {
		return fmt.Errorf("patient_id and doctor_id are required")
	}
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range p.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if p.Date.IsZero() {
		p.Date = time.Now()
	}
	p.Status = StatusNew
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.log.Info().
		Str("prescription_id", p.ID.String()).
		Int("items", len(p.Items)).
		Msg("prescription created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDate(ctx context.Context, date time.Time, statuses []Status) ([]*Prescription, error) {
	return s.repo.ListByDate(ctx, date, statuses)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// MarkReady hands the prescription to the pharmacy.
func (s *Service) MarkReady(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusNew {
		return ErrNotDispensable
	}
	return s.repo.SetStatus(ctx, id, StatusReady)
}

// Cancel voids an undispensed prescription.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == StatusDispensed {
		return ErrAlreadyDispensed
	}
	return s.repo.SetStatus(ctx, id, StatusCancelled)
}

// Dispense allocates stock for every item and marks the prescription
// DISPENSED, all inside one transaction. Every item is previewed first so a
// shortage on the last line does not leave earlier lines half-dispensed.
func (s *Service) Dispense(ctx context.Context, id uuid.UUID, operator string) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == StatusDispensed {
		return ErrAlreadyDispensed
	}
	if p.Status != StatusNew && p.Status != StatusReady {
		return ErrNotDispensable
	}
	if len(p.Items) == 0 {
		return ErrNoItems
	}

	for _, item := range p.Items {
		if err := s.stock.CanAllocate(ctx, item.DrugID, item.Quantity, item.TreatmentDays); err != nil {
			return err
		}
	}

	rxID := p.ID
	err = s.runTx(ctx, func(ctx context.Context) error {
		for _, item := range p.Items {
			if err := s.stock.Allocate(ctx, item.DrugID, item.Quantity, item.TreatmentDays, &rxID, operator); err != nil {
				return err
			}
		}
		return s.repo.SetStatus(ctx, p.ID, StatusDispensed)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("prescription_id", p.ID.String()).
		Str("operator", operator).
		Msg("prescription dispensed")
	return nil
}
