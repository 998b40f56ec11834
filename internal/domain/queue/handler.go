package queue

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/api/internal/platform/auth"
	"github.com/clinicore/api/internal/platform/lock"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the staff endpoints on api and the unauthenticated
// waiting-room board on public.
func (h *Handler) RegisterRoutes(api, public *echo.Group) {
	staff := api.Group("", auth.RequireRole("admin", "doctor", "nurse", "registrar"))
	staff.GET("/queue", h.ListForDay)
	staff.POST("/queue/walk-in", h.CreateWalkIn)
	staff.POST("/queue/call-next", h.CallNext)
	staff.GET("/tickets/:id", h.GetTicket)
	staff.POST("/tickets/:id/recall", h.Recall)
	staff.POST("/tickets/:id/start", h.StartVisit)
	staff.POST("/tickets/:id/finish", h.Finish)
	staff.POST("/tickets/:id/skip", h.Skip)
	staff.POST("/tickets/:id/requeue", h.Requeue)

	public.GET("/display", h.Display)
}

func (h *Handler) queueDay(c echo.Context) (uuid.UUID, time.Time, error) {
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return uuid.Nil, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	date := time.Now()
	if ds := c.QueryParam("date"); ds != "" {
		date, err = time.Parse("2006-01-02", ds)
		if err != nil {
			return uuid.Nil, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
	}
	return doctorID, date, nil
}

func (h *Handler) ListForDay(c echo.Context) error {
	doctorID, date, err := h.queueDay(c)
	if err != nil {
		return err
	}
	tickets, err := h.svc.ListForDay(c.Request().Context(), doctorID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if tickets == nil {
		tickets = []*Ticket{}
	}
	return c.JSON(http.StatusOK, tickets)
}

type walkInPayload struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
}

func (h *Handler) CreateWalkIn(c echo.Context) error {
	var p walkInPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.PatientID == uuid.Nil || p.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and doctor_id are required")
	}
	t, err := h.svc.CreateWalkIn(c.Request().Context(), p.PatientID, p.DoctorID, time.Now())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return echo.NewHTTPError(http.StatusConflict, "queue is busy, please retry")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) CallNext(c echo.Context) error {
	doctorID, date, err := h.queueDay(c)
	if err != nil {
		return err
	}
	t, err := h.svc.CallNext(c.Request().Context(), doctorID, date)
	if err != nil {
		if errors.Is(err, ErrNoneWaiting) {
			return echo.NewHTTPError(http.StatusConflict, "no waiting ticket")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetTicket(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Recall(c echo.Context) error {
	return h.transition(c, h.svc.Recall)
}

func (h *Handler) StartVisit(c echo.Context) error {
	return h.transition(c, h.svc.StartVisit)
}

func (h *Handler) Finish(c echo.Context) error {
	return h.transition(c, h.svc.Finish)
}

func (h *Handler) Requeue(c echo.Context) error {
	return h.transition(c, h.svc.Requeue)
}

func (h *Handler) Skip(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	next, err := h.svc.Skip(c.Request().Context(), id)
	if err != nil {
		return ticketError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"next": next})
}

func (h *Handler) Display(c echo.Context) error {
	doctorID, date, err := h.queueDay(c)
	if err != nil {
		return err
	}
	board, err := h.svc.Display(c.Request().Context(), doctorID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Ticket, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := fn(c.Request().Context(), id)
	if err != nil {
		return ticketError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func ticketError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	case errors.Is(err, ErrBadTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
