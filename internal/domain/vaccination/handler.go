package vaccination

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/pkg/calendar"
	"github.com/amutrack/amutrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleFarmer, auth.RoleVeterinarian, auth.RoleAuthority))
	read.GET("/treatments/:id/vaccination-history", h.ListHistory)
	read.GET("/vaccinations/upcoming", h.Upcoming)
	read.GET("/vaccinations/overdue", h.Overdue)

	write := api.Group("", auth.RequireRole(auth.RoleFarmer, auth.RoleVeterinarian))
	write.POST("/treatments/:id/vaccination-history", h.GiveLatest)
	write.POST("/vaccinations/history/:id/mark-done", h.MarkDone)
	write.PATCH("/vaccinations/history/:id", h.Correct)
}

func (h *Handler) ListHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type dosedResponse struct {
	Message     string `json:"message"`
	Vaccination *Entry `json:"vaccination"`
}

func (h *Handler) GiveLatest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GiveLatest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, dosedResponse{Message: "Vaccination marked as given", Vaccination: e})
}

type markDoneRequest struct {
	GivenDate *calendar.Input `json:"given_date"`
}

func (h *Handler) MarkDone(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req markDoneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.MarkDone(c.Request().Context(), id, req.GivenDate.Ptr())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, dosedResponse{Message: "Vaccination marked as given", Vaccination: e})
}

type correctRequest struct {
	GivenDate   *calendar.Input `json:"given_date"`
	NextDueDate *calendar.Input `json:"next_due_date"`
}

func (h *Handler) Correct(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req correctRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Correct(c.Request().Context(), id, req.GivenDate.Ptr(), req.NextDueDate.Ptr())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Upcoming(c echo.Context) error {
	f, err := headFilter(c)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(c.QueryParam("days"))
	items, err := h.svc.Upcoming(c.Request().Context(), f, days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Overdue(c echo.Context) error {
	f, err := headFilter(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Overdue(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// headFilter scopes farmers to their own farm or their own treatments.
func headFilter(c echo.Context) (HeadFilter, error) {
	ctx := c.Request().Context()
	var f HeadFilter
	if raw := c.QueryParam("farm_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid farm_id")
		}
		f.FarmID = &id
	}
	if auth.HasRole(ctx, auth.RoleVeterinarian, auth.RoleAuthority) {
		return f, nil
	}
	if f.FarmID != nil && auth.FarmIDFromContext(ctx) == f.FarmID.String() {
		return f, nil
	}
	f.UserID = auth.UserIDFromContext(ctx)
	return f, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrCycleCompleted):
		return echo.NewHTTPError(http.StatusBadRequest, "Vaccination cycle is already completed")
	case errors.Is(err, ErrNotDue):
		return echo.NewHTTPError(http.StatusBadRequest, "Vaccination is not due yet")
	case errors.Is(err, ErrNotVaccine):
		return echo.NewHTTPError(http.StatusBadRequest, "Treatment is not a vaccine")
	case errors.Is(err, ErrTreatmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Treatment not found")
	case errors.Is(err, ErrNoHistory):
		return echo.NewHTTPError(http.StatusNotFound, "No vaccination history found for this treatment")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Vaccination history entry not found")
	case errors.Is(err, ErrSuperseded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
