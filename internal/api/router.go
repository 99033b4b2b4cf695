package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// RouterConfig holds the optional surfaces mounted next to the API
type RouterConfig struct {
	CORSAllowedOrigins []string
	StaticFilesDir     string
	MetricsPath        string
	Metrics            http.Handler // nil disables the metrics endpoint
	WebSocket          http.Handler // nil disables /ws
}

// Router is the HTTP router for the dashboard
type Router struct {
	handler *Handler
	cfg     RouterConfig
	logger  *logger.Logger
}

// NewRouter creates a new router
func NewRouter(handler *Handler, cfg RouterConfig, log *logger.Logger) *Router {
	return &Router{
		handler: handler,
		cfg:     cfg,
		logger:  log.Named("router"),
	}
}

// Routes returns the router's handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	if len(rt.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	h := rt.handler
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/status", h.GetStatus)
		r.Get("/eta", h.GetETAs)

		r.Get("/route", h.GetActiveRoute)
		r.Get("/route/timing", h.GetRouteTiming)

		r.Route("/routes", func(r chi.Router) {
			r.Get("/", h.ListRoutes)
			r.Post("/deactivate", h.DeactivateRoute)
			r.Post("/reload", h.ReloadRoute)
			r.Post("/{name}/activate", h.ActivateRoute)
		})

		r.Route("/pois", func(r chi.Router) {
			r.Get("/", h.ListPOIs)
			r.Post("/", h.CreatePOI)
			r.Get("/{id}", h.GetPOI)
			r.Put("/{id}", h.UpdatePOI)
			r.Delete("/{id}", h.DeletePOI)
		})

		r.Get("/history/positions", h.GetPositionHistory)
		r.Get("/history/events", h.GetEventHistory)
	})

	if rt.cfg.WebSocket != nil {
		r.Get("/ws", rt.cfg.WebSocket.ServeHTTP)
	}
	if rt.cfg.Metrics != nil {
		path := rt.cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, rt.cfg.Metrics)
	}
	if rt.cfg.StaticFilesDir != "" {
		r.Handle("/*", NewStaticFileHandler(rt.cfg.StaticFilesDir, rt.logger))
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
