package report

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/amutrack/amutrack/internal/domain/residue"
	"github.com/amutrack/amutrack/internal/domain/treatment"
	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/internal/platform/db"
	"github.com/amutrack/amutrack/pkg/calendar"
)

// maxExportRows bounds a single workbook.
const maxExportRows = 50000

type Handler struct {
	amu treatment.AMURepository
	q   db.Querier
}

// NewHandler serves measures from q and exports from amu. q may be nil,
// in which case measures cannot be evaluated.
func NewHandler(amu treatment.AMURepository, q db.Querier) *Handler {
	return &Handler{amu: amu, q: q}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAuthority))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
	g.GET("/amu.xlsx", h.ExportAMU)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	if h.q == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reporting database not configured")
	}
	rep, err := Evaluate(c.Request().Context(), h.q, m)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return c.JSON(http.StatusOK, rep)
}

// ExportAMU streams the filtered AMU records as an .xlsx workbook.
// Filters: species, farm_id, from, to (end date, YYYY-MM-DD), risk.
func (h *Handler) ExportAMU(c echo.Context) error {
	f, err := searchFilter(c)
	if err != nil {
		return err
	}
	records, err := h.amu.Search(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var buf bytes.Buffer
	if err := WriteAMU(&buf, records); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build workbook")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=amu-report.xlsx")
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func searchFilter(c echo.Context) (treatment.SearchFilter, error) {
	f := treatment.SearchFilter{Species: c.QueryParam("species"), Limit: maxExportRows}
	if raw := c.QueryParam("farm_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid farm_id")
		}
		f.FarmID = &id
	}
	for name, dst := range map[string]**calendar.Date{"from": &f.From, "to": &f.To} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		d, err := calendar.Parse(raw)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		*dst = &d
	}
	switch risk := residue.RiskCategory(c.QueryParam("risk")); risk {
	case "":
	case residue.RiskSafe, residue.RiskBorderline, residue.RiskUnsafe:
		f.Risk = risk
	default:
		return f, echo.NewHTTPError(http.StatusBadRequest, "risk must be safe, borderline or unsafe")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		if n < f.Limit {
			f.Limit = n
		}
	}
	return f, nil
}
