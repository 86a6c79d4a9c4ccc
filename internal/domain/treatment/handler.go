package treatment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleFarmer, auth.RoleVeterinarian, auth.RoleAuthority, auth.RoleLaboratory))
	read.GET("/treatments", h.List)
	read.GET("/treatments/:id", h.Get)
	read.GET("/amu/:id", h.GetAMU)

	write := api.Group("", auth.RequireRole(auth.RoleFarmer, auth.RoleVeterinarian))
	write.POST("/treatments", h.Create)
	write.PUT("/treatments/:id", h.Update)
	write.DELETE("/treatments/:id", h.Delete)
	write.POST("/treatments/:id/amu", h.AddAMU)

	all := api.Group("", auth.RequireRole(auth.RoleFarmer, auth.RoleVeterinarian, auth.RoleAuthority,
		auth.RoleLaboratory, auth.RoleDistributor))
	all.GET("/withdrawals/active", h.ActiveWithdrawals)
	all.POST("/predict", h.Predict)
}

// RegisterPublicRoutes mounts the unauthenticated QR verification route.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/verify/:entity_id", h.Verify)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Create(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) List(c echo.Context) error {
	entityID, err := uuid.Parse(c.QueryParam("entity_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_id query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByEntity(c.Request().Context(), entityID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Update(c.Request().Context(), id, &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type amuResponse struct {
	Message string     `json:"message"`
	Record  *AMURecord `json:"amu_record"`
}

func (h *Handler) AddAMU(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AMURequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AddAMU(c.Request().Context(), id, &req)
	if err != nil {
		return httpError(err)
	}
	msg := "AMU record saved"
	if a.RiskCategory == nil {
		msg = MessageLookupMiss
	}
	return c.JSON(http.StatusCreated, amuResponse{Message: msg, Record: a})
}

func (h *Handler) GetAMU(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAMU(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ActiveWithdrawals(c echo.Context) error {
	var farmID *uuid.UUID
	if raw := c.QueryParam("farm_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid farm_id")
		}
		farmID = &id
	}
	items, err := h.svc.ActiveWithdrawals(c.Request().Context(), farmID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Predict(c echo.Context) error {
	var req PreviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, ok, err := h.svc.Preview(&req)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, MessageLookupMiss)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("entity_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entity_id")
	}
	v, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Entity not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, v)
}

func httpError(err error) error {
	var ve *ValidationError
	var active *ActiveTreatmentError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"fields":  ve.Fields,
		})
	case errors.As(err, &active):
		return echo.NewHTTPError(http.StatusConflict, active.Error())
	case errors.Is(err, ErrInvalidSchedule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Treatment not found")
	case errors.Is(err, ErrAMUNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "AMU record not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
