package route

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/records"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// ErrUnknownRoute is returned when a route name does not resolve to a route file
var ErrUnknownRoute = errors.New("unknown route")

// Listener is notified when the active route changes
type Listener interface {
	ActivateRoute(r *ParsedRoute)
	DeactivateRoute()
}

// Info describes a route file available for activation
type Info struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Active   bool      `json:"active"`
}

type activeState struct {
	Name        string    `json:"name"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// Manager supplies the active route. Parsing happens here, on the caller's
// goroutine, never inside the tracking loop.
type Manager struct {
	dir       string
	ingestor  *Ingestor
	state     *records.FileStore
	logger    *logger.Logger
	listeners []Listener

	// switchMu orders persist, swap and notify so the state file, Active()
	// and every listener end on the same route
	switchMu sync.Mutex

	mu         sync.RWMutex
	active     *ParsedRoute
	activeName string
}

// NewManager creates a route manager over the KML files in dir.
// state persists the active route name across restarts and may be nil.
func NewManager(dir string, ingestor *Ingestor, state *records.FileStore, log *logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create routes directory: %w", err)
	}
	return &Manager{
		dir:      dir,
		ingestor: ingestor,
		state:    state,
		logger:   log.Named("routes"),
	}, nil
}

// AddListener registers a listener for activation changes
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// List returns the available route files sorted by name
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes directory: %w", err)
	}

	m.mu.RLock()
	activeName := m.activeName
	m.mu.RUnlock()

	routes := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".kml") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		routes = append(routes, Info{
			Name:     name,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
			Active:   name == activeName,
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })
	return routes, nil
}

// Active returns the active route, or nil
func (m *Manager) Active() *ParsedRoute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Load parses a route file without activating it
func (m *Manager) Load(name string) (*ParsedRoute, error) {
	path, name, err := m.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open route file: %w", err)
	}
	defer f.Close()

	doc, err := LoadKML(f)
	if err != nil {
		return nil, &ParseError{Route: name, Err: err}
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return m.ingestor.Build(doc)
}

// Activate parses the named route and makes it the active one
func (m *Manager) Activate(ctx context.Context, name string) (*ParsedRoute, error) {
	r, err := m.Load(name)
	if err != nil {
		return nil, err
	}
	_, name, _ = m.resolve(name)

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if err := m.persist(ctx, activeState{Name: name, ActivatedAt: time.Now().UTC()}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active = r
	m.activeName = name
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.ActivateRoute(r)
	}

	m.logger.Info("Route activated",
		logger.String("name", name),
		logger.Int("waypoints", len(r.Waypoints)),
		logger.Int("warnings", len(r.Warnings)))
	return r, nil
}

// Deactivate clears the active route
func (m *Manager) Deactivate(ctx context.Context) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if err := m.persist(ctx, activeState{}); err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.activeName
	m.active = nil
	m.activeName = ""
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.DeactivateRoute()
	}

	m.logger.Info("Route deactivated", logger.String("name", prev))
	return nil
}

// Reload re-reads the active route file and re-activates it.
// It returns nil, nil when no route is active.
func (m *Manager) Reload(ctx context.Context) (*ParsedRoute, error) {
	m.mu.RLock()
	name := m.activeName
	m.mu.RUnlock()

	if name == "" {
		return nil, nil
	}
	m.logger.Info("Reloading active route", logger.String("name", name))
	return m.Activate(ctx, name)
}

// Restore re-activates the route that was active when the state was last saved
func (m *Manager) Restore(ctx context.Context) error {
	if m.state == nil {
		return nil
	}
	var st activeState
	if err := m.state.Read(&st); err != nil {
		return err
	}
	if st.Name == "" {
		return nil
	}
	if _, err := m.Activate(ctx, st.Name); err != nil {
		m.logger.Warn("Could not restore active route",
			logger.String("name", st.Name),
			logger.Error(err))
		return err
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, st activeState) error {
	if m.state == nil {
		return nil
	}
	if err := m.state.Write(ctx, st); err != nil {
		return fmt.Errorf("failed to persist active route: %w", err)
	}
	return nil
}

// resolve maps a route name onto a file in the routes directory
func (m *Manager) resolve(name string) (path, clean string, err error) {
	clean = strings.TrimSpace(filepath.Base(name))
	if strings.EqualFold(filepath.Ext(clean), ".kml") {
		clean = strings.TrimSuffix(clean, filepath.Ext(clean))
	}
	if clean == "" || clean == "." || clean == ".." || clean == string(filepath.Separator) {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRoute, name)
	}
	path = filepath.Join(m.dir, clean+".kml")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownRoute, name)
		}
		return "", "", fmt.Errorf("failed to stat route file: %w", err)
	}
	return path, clean, nil
}
