// Package notification stores in-app notifications for farmers and vets,
// renders them from templates and exposes them over HTTP.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/amutrack/amutrack/internal/platform/auth"
	"github.com/amutrack/amutrack/pkg/pagination"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

type Type string

const (
	TypeVaccination Type = "vaccination"
	TypeAlert       Type = "alert"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Type        Type       `db:"type" json:"type"`
	Message     string     `db:"message" json:"message"`
	EntityID    *uuid.UUID `db:"entity_id" json:"entity_id,omitempty"`
	TreatmentID *uuid.UUID `db:"treatment_id" json:"treatment_id,omitempty"`
	VaccID      *uuid.UUID `db:"vacc_id" json:"vacc_id,omitempty"`
	Read        bool       `db:"is_read" json:"read"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const (
	TemplateVaccinationGiven    = "vaccination-given"
	TemplateVaccinationUpcoming = "vaccination-upcoming"
	TemplateVaccinationOverdue  = "vaccination-overdue"
	TemplateVaccinationComplete = "vaccination-complete"
	TemplateOverdosage          = "overdosage"
)

type Template struct {
	ID   string
	Type Type
	Body string
}

// TemplateEngine renders {{key}} placeholders. Keys missing from the data
// are left in place.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{TemplateVaccinationGiven, TypeVaccination, "Vaccination for {{vaccine}} given on {{given}}, next due {{next_due}}."},
		{TemplateVaccinationUpcoming, TypeVaccination, "{{vaccine}} vaccination is due on {{next_due}} ({{days}} days)."},
		{TemplateVaccinationOverdue, TypeVaccination, "{{vaccine}} vaccination was due on {{next_due}} and is {{days}} days overdue."},
		{TemplateVaccinationComplete, TypeVaccination, "{{vaccine}} vaccination cycle completed on {{given}}."},
		{TemplateOverdosage, TypeAlert, "Overdosage recorded for {{medicine}}: {{detail}}"},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Render(id string, data map[string]string) (Type, string, error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return t.Type, body, nil
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) error
}

// MemoryStore is used in tests and by the CLI when no database is wired.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.items[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	s.mu.RLock()
	var out []*Notification
	for _, n := range s.items {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	return pagination.Page(out, pagination.Params{Limit: limit, Offset: offset}), total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type Service struct {
	store     Store
	templates *TemplateEngine
	log       zerolog.Logger
}

func NewService(store Store, templates *TemplateEngine, log zerolog.Logger) *Service {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Service{store: store, templates: templates, log: log}
}

func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if n.Message == "" {
		return fmt.Errorf("message is required")
	}
	if n.Type == "" {
		n.Type = TypeAlert
	}
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	s.log.Debug().Str("user_id", n.UserID).Str("type", string(n.Type)).Msg("notification created")
	return nil
}

// NotifyTemplate renders template id into n.Message and stores n.
func (s *Service) NotifyTemplate(ctx context.Context, id string, data map[string]string, n *Notification) error {
	typ, body, err := s.templates.Render(id, data)
	if err != nil {
		return err
	}
	n.Type = typ
	n.Message = body
	return s.Notify(ctx, n)
}

func (s *Service) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.store.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, userID string, id uuid.UUID) error {
	return s.store.MarkRead(ctx, userID, id)
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	pg := pagination.FromContext(c)
	unread := c.QueryParam("unread") == "true"
	items, total, err := h.svc.ListForUser(c.Request().Context(), userID, unread, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
