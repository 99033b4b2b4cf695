package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/poi"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/records"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/sqlite"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// Tracker is the read side of the tracking service
type Tracker interface {
	Snapshot() *tracker.Snapshot
	ETAs(src tracker.TargetSource) ([]eta.Result, error)
}

// Routes manages the route library and the active route
type Routes interface {
	List() ([]route.Info, error)
	Active() *route.ParsedRoute
	Activate(ctx context.Context, name string) (*route.ParsedRoute, error)
	Deactivate(ctx context.Context) error
	Reload(ctx context.Context) (*route.ParsedRoute, error)
}

// POIs is the point of interest store
type POIs interface {
	List() ([]poi.POI, error)
	Get(id string) (poi.POI, error)
	Create(ctx context.Context, p poi.POI) (poi.POI, error)
	Update(ctx context.Context, id string, p poi.POI) (poi.POI, error)
	Delete(ctx context.Context, id string) error
}

// History is the optional position and event log
type History interface {
	RecentPositions(ctx context.Context, limit int) ([]sqlite.PositionRecord, error)
	RecentEvents(ctx context.Context, route string, limit int) ([]sqlite.EventRecord, error)
}

// Handler contains the API handlers
type Handler struct {
	tracker Tracker
	routes  Routes
	pois    POIs
	targets tracker.TargetSource
	history History
	logger  *logger.Logger
	started time.Time
	version string
}

// Deps groups the services the handlers read from. History may be nil.
type Deps struct {
	Tracker Tracker
	Routes  Routes
	POIs    POIs
	Targets tracker.TargetSource
	History History
	Version string
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{
		tracker: deps.Tracker,
		routes:  deps.Routes,
		pois:    deps.POIs,
		targets: deps.Targets,
		history: deps.History,
		logger:  log.Named("api-handler"),
		started: time.Now(),
		version: deps.Version,
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()

	response := map[string]any{
		"status":       "ok",
		"version":      h.version,
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"route_active": snap.RouteActive,
		"has_position": snap.Position != nil,
		"last_tick":    snap.Time,
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetStatus returns the latest tracking snapshot
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.tracker.Snapshot())
}

// GetActiveRoute returns the active route with its waypoints
func (h *Handler) GetActiveRoute(w http.ResponseWriter, r *http.Request) {
	active := h.routes.Active()
	if active == nil {
		http.Error(w, "No active route", http.StatusNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, active)
}

// GetRouteTiming returns the planned schedule of the active route
func (h *Handler) GetRouteTiming(w http.ResponseWriter, r *http.Request) {
	active := h.routes.Active()
	if active == nil {
		http.Error(w, "No active route", http.StatusNotFound)
		return
	}

	response := map[string]any{
		"route":      active.Name,
		"has_timing": active.HasTiming(),
		"timing":     active.Timing,
	}

	WriteJSON(w, http.StatusOK, response)
}

// ListRoutes returns the routes available for activation
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.routes.List()
	if err != nil {
		h.logger.Error("Failed to list routes", logger.Error(err))
		http.Error(w, "Failed to list routes", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"timestamp": time.Now(),
		"count":     len(routes),
		"routes":    routes,
	}

	WriteJSON(w, http.StatusOK, response)
}

// ActivateRoute parses and activates a route by name
func (h *Handler) ActivateRoute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "Missing route name", http.StatusBadRequest)
		return
	}

	active, err := h.routes.Activate(r.Context(), name)
	if err != nil {
		h.writeError(w, "Failed to activate route", err)
		return
	}

	h.logger.Info("Activated route via API",
		logger.String("route", active.Name),
		logger.Int("waypoints", len(active.Waypoints)))

	WriteJSON(w, http.StatusOK, active)
}

// DeactivateRoute clears the active route
func (h *Handler) DeactivateRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.routes.Deactivate(r.Context()); err != nil {
		h.writeError(w, "Failed to deactivate route", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// ReloadRoute re-parses the active route from disk
func (h *Handler) ReloadRoute(w http.ResponseWriter, r *http.Request) {
	active, err := h.routes.Reload(r.Context())
	if err != nil {
		h.writeError(w, "Failed to reload route", err)
		return
	}
	if active == nil {
		http.Error(w, "No active route", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, active)
}

// etaEntry is a result with its display form
type etaEntry struct {
	eta.Result
	Display string `json:"eta_display"`
}

// GetETAs returns the ETA to every route waypoint and POI
func (h *Handler) GetETAs(w http.ResponseWriter, r *http.Request) {
	results, err := h.tracker.ETAs(h.targets)
	if errors.Is(err, tracker.ErrNoPosition) {
		http.Error(w, "No position available yet", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error("Failed to compute ETAs", logger.Error(err))
		http.Error(w, "Failed to compute ETAs", http.StatusInternalServerError)
		return
	}

	entries := make([]etaEntry, len(results))
	for i, res := range results {
		entries[i] = etaEntry{Result: res, Display: eta.FormatETA(res.ETASeconds)}
	}

	snap := h.tracker.Snapshot()
	response := map[string]any{
		"timestamp": snap.Time,
		"departed":  snap.Departed,
		"speed":     snap.Speed,
		"summary":   eta.Summarize(results),
		"count":     len(entries),
		"etas":      entries,
	}

	WriteJSON(w, http.StatusOK, response)
}

// ListPOIs returns all stored POIs
func (h *Handler) ListPOIs(w http.ResponseWriter, r *http.Request) {
	pois, err := h.pois.List()
	if err != nil {
		h.writeError(w, "Failed to list POIs", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count": len(pois),
		"pois":  pois,
	})
}

// GetPOI returns one POI
func (h *Handler) GetPOI(w http.ResponseWriter, r *http.Request) {
	p, err := h.pois.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "Failed to get POI", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// CreatePOI stores a new POI
func (h *Handler) CreatePOI(w http.ResponseWriter, r *http.Request) {
	var req poi.POI
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.pois.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, "Failed to create POI", err)
		return
	}

	h.logger.Info("Created POI via API",
		logger.String("id", created.ID),
		logger.String("name", created.Name))

	WriteJSON(w, http.StatusCreated, created)
}

// UpdatePOI replaces the editable fields of a POI
func (h *Handler) UpdatePOI(w http.ResponseWriter, r *http.Request) {
	var req poi.POI
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.pois.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, "Failed to update POI", err)
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

// DeletePOI removes a POI
func (h *Handler) DeletePOI(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.pois.Delete(r.Context(), id); err != nil {
		h.writeError(w, "Failed to delete POI", err)
		return
	}

	h.logger.Info("Deleted POI via API", logger.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// GetPositionHistory returns the newest stored positions
func (h *Handler) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "History is disabled", http.StatusNotFound)
		return
	}

	positions, err := h.history.RecentPositions(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("Failed to retrieve positions", logger.Error(err))
		http.Error(w, "Failed to retrieve positions", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"count":     len(positions),
		"positions": positions,
	})
}

// GetEventHistory returns the newest route events, optionally for one route
func (h *Handler) GetEventHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "History is disabled", http.StatusNotFound)
		return
	}

	routeName := r.URL.Query().Get("route")
	events, err := h.history.RecentEvents(r.Context(), routeName, parseLimit(r))
	if err != nil {
		h.logger.Error("Failed to retrieve route events", logger.Error(err))
		http.Error(w, "Failed to retrieve route events", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"route":     routeName,
		"count":     len(events),
		"events":    events,
	})
}

// writeError maps domain errors onto status codes
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	var parseErr *route.ParseError

	switch {
	case errors.Is(err, poi.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, poi.ErrNotFound), errors.Is(err, route.ErrUnknownRoute):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, records.ErrLockTimeout):
		h.logger.Warn("Record store busy", logger.String("operation", msg), logger.Error(err))
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Storage busy, retry shortly", http.StatusServiceUnavailable)
	case errors.As(err, &parseErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error(msg, logger.Error(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request) int {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, 1000)
		}
	}
	return limit
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
