package inventory

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	readGroup := api.Group("", auth.RequireRole("admin", "pharmacist", "doctor", "nurse"))
	readGroup.GET("/drugs", h.ListDrugs)
	readGroup.GET("/drugs/low-stock", h.ListLowStock)
	readGroup.GET("/drugs/:id", h.GetDrug)
	readGroup.GET("/drugs/:id/batches", h.ListBatches)
	readGroup.GET("/drugs/:id/transactions", h.ListTransactions)

	writeGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	writeGroup.POST("/drugs", h.CreateDrug)
	writeGroup.PUT("/drugs/:id", h.UpdateDrug)
	writeGroup.POST("/drugs/:id/stock-in", h.StockIn)
	writeGroup.POST("/batches/:id/return", h.ReturnToBatch)
	writeGroup.POST("/batches/:id/adjust", h.AdjustBatch)
	writeGroup.POST("/batches/:id/destroy", h.DestroyBatch)
	writeGroup.POST("/batches/:id/quarantine", h.QuarantineBatch)
	writeGroup.POST("/batches/:id/unquarantine", h.UnquarantineBatch)
}

func (h *Handler) CreateDrug(c echo.Context) error {
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDrug(c.Request().Context(), &d); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "drug not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d Drug
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateDrug(c.Request().Context(), &d); err != nil {
		if errors.Is(err, ErrDrugNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "drug not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("active") == "true"
	items, total, err := h.svc.ListDrugs(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListLowStock(c echo.Context) error {
	items, err := h.svc.ListLowStock(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Drug{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListBatches(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListBatches(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*StockBatch{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransactions(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type stockInPayload struct {
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date"`
	Note       string `json:"note"`
}

func (h *Handler) StockIn(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p stockInPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	expiry, err := time.Parse("2006-01-02", p.ExpiryDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid expiry_date, expected YYYY-MM-DD")
	}
	batch, err := h.svc.StockIn(c.Request().Context(), id, p.Quantity, expiry, p.Note, operator(c))
	if err != nil {
		if errors.Is(err, ErrDrugNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "drug not found")
		}
		if errors.Is(err, lock.ErrNotAcquired) {
			return echo.NewHTTPError(http.StatusConflict, "stock is busy, please retry")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, batch)
}

type batchChangePayload struct {
	Quantity int    `json:"quantity"`
	Change   int    `json:"change"`
	Reason   string `json:"reason"`
	Note     string `json:"note"`
}

func (h *Handler) ReturnToBatch(c echo.Context) error {
	return h.batchAction(c, func(ctx echo.Context, id uuid.UUID, p batchChangePayload) (*StockBatch, error) {
		return h.svc.ReturnToBatch(ctx.Request().Context(), id, p.Quantity, p.Note, operator(ctx))
	})
}

func (h *Handler) AdjustBatch(c echo.Context) error {
	return h.batchAction(c, func(ctx echo.Context, id uuid.UUID, p batchChangePayload) (*StockBatch, error) {
		return h.svc.AdjustBatch(ctx.Request().Context(), id, p.Change, p.Note, operator(ctx))
	})
}

func (h *Handler) DestroyBatch(c echo.Context) error {
	return h.batchAction(c, func(ctx echo.Context, id uuid.UUID, p batchChangePayload) (*StockBatch, error) {
		return h.svc.DestroyBatch(ctx.Request().Context(), id, p.Quantity, p.Note, operator(ctx))
	})
}

func (h *Handler) QuarantineBatch(c echo.Context) error {
	return h.batchAction(c, func(ctx echo.Context, id uuid.UUID, p batchChangePayload) (*StockBatch, error) {
		return h.svc.QuarantineBatch(ctx.Request().Context(), id, p.Reason, p.Note, operator(ctx))
	})
}

func (h *Handler) UnquarantineBatch(c echo.Context) error {
	return h.batchAction(c, func(ctx echo.Context, id uuid.UUID, p batchChangePayload) (*StockBatch, error) {
		return h.svc.UnquarantineBatch(ctx.Request().Context(), id, p.Note, operator(ctx))
	})
}

func (h *Handler) batchAction(c echo.Context, fn func(echo.Context, uuid.UUID, batchChangePayload) (*StockBatch, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p batchChangePayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	batch, err := fn(c, id, p)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "batch not found")
		}
		if errors.Is(err, lock.ErrNotAcquired) {
			return echo.NewHTTPError(http.StatusConflict, "stock is busy, please retry")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, batch)
}

func operator(c echo.Context) string {
	return auth.SubjectFromContext(c.Request().Context())
}
