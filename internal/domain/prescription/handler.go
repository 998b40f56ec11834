package prescription

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/api/internal/domain/inventory"
	"github.com/clinicore/api/internal/platform/auth"
	"github.com/clinicore/api/internal/platform/lock"
	"github.com/clinicore/api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "doctor", "nurse", "pharmacist"))
	readGroup.GET("/prescriptions", h.List)
	readGroup.GET("/prescriptions/:id", h.Get)

	api.POST("/prescriptions", h.Create, auth.RequireRole("admin", "doctor"))
	api.POST("/prescriptions/:id/ready", h.MarkReady, auth.RequireRole("admin", "doctor"))
	api.POST("/prescriptions/:id/cancel", h.Cancel, auth.RequireRole("admin", "doctor"))
	api.POST("/prescriptions/:id/dispense", h.Dispense, auth.RequireRole("admin", "pharmacist"))
}

type createPayload struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Items     []*Item   `json:"items"`
}

func (h *Handler) Create(c echo.Context) error {
	var p createPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx := &Prescription{
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Items:     p.Items,
	}
	if p.Date != "" {
		date, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		rx.Date = date
	}
	if err := h.svc.Create(c.Request().Context(), rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rx, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	date := time.Now()
	if ds := c.QueryParam("date"); ds != "" {
		var err error
		date, err = time.Parse("2006-01-02", ds)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
	}
	var statuses []Status
	if st := c.QueryParam("status"); st != "" {
		statuses = []Status{Status(st)}
	}
	items, err := h.svc.ListByDate(ctx, date, statuses)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MarkReady(c echo.Context) error {
	return h.statusAction(c, func(id uuid.UUID) error {
		return h.svc.MarkReady(c.Request().Context(), id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.statusAction(c, func(id uuid.UUID) error {
		return h.svc.Cancel(c.Request().Context(), id)
	})
}

func (h *Handler) Dispense(c echo.Context) error {
	return h.statusAction(c, func(id uuid.UUID) error {
		return h.svc.Dispense(c.Request().Context(), id, auth.SubjectFromContext(c.Request().Context()))
	})
}

func (h *Handler) statusAction(c echo.Context, fn func(id uuid.UUID) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := fn(id); err != nil {
		var shortage *inventory.ShortageError
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		case errors.Is(err, ErrAlreadyDispensed), errors.Is(err, ErrNotDispensable):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, lock.ErrNotAcquired):
			return echo.NewHTTPError(http.StatusConflict, "stock is busy, please retry")
		case errors.As(err, &shortage):
			// Surface the deficit so the pharmacist can act on it.
			return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
				"error":   shortage.Error(),
				"drug":    shortage.DrugName,
				"missing": shortage.Missing,
			})
		default:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}
