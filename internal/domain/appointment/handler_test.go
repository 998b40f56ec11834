package appointment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/api/internal/platform/lock"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func TestHandler_ListSlots(t *testing.T) {
	h, f, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet,
		"/slots?doctor_id="+f.doctorID.String()+"&date=2026-09-07", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Slots []string `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Slots) != 6 || body.Slots[0] != "09:00" {
		t.Errorf("unexpected slots: %v", body.Slots)
	}
}

func TestHandler_ListSlots_BadDoctorID(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/slots?doctor_id=nope&date=2026-09-07", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListSlots(c)
	if err == nil {
		t.Fatal("expected error for invalid doctor_id")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Book(t *testing.T) {
	h, f, e := newTestHandler(t)
	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + f.doctorID.String() +
		`","date":"2026-09-07","time":"09:30"}`
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Book_SlotTakenConflict(t *testing.T) {
	h, f, e := newTestHandler(t)
	if _, err := f.book(t, monday, tod(9, 30)); err != nil {
		t.Fatalf("prime booking: %v", err)
	}

	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + f.doctorID.String() +
		`","date":"2026-09-07","time":"09:30"}`
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Book(c)
	if err == nil {
		t.Fatal("expected error for taken slot")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

// heldLocker simulates another process holding the doctor-day lease.
type heldLocker struct{}

func (heldLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return lock.ErrNotAcquired
}

func TestHandler_Book_LockHeldConflict(t *testing.T) {
	h, f, e := newTestHandler(t)
	f.svc.locker = heldLocker{}

	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + f.doctorID.String() +
		`","date":"2026-09-07","time":"09:30"}`
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Book(c)
	if err == nil {
		t.Fatal("expected error when lock is held")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Book_InvalidSlotUnprocessable(t *testing.T) {
	h, f, e := newTestHandler(t)
	body := `{"patient_id":"` + uuid.New().String() + `","doctor_id":"` + f.doctorID.String() +
		`","date":"2026-09-07","time":"09:10"}`
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Book(c)
	if err == nil {
		t.Fatal("expected error for off-grid time")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %v", err)
	}
}

func TestHandler_Cancel(t *testing.T) {
	h, f, e := newTestHandler(t)
	appt, err := f.book(t, monday, tod(9, 0))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())

	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_GetAppointment_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetAppointment(c)
	if err == nil {
		t.Fatal("expected error for not found")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
