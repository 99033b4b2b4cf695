package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/api"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/config"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/metrics"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/poi"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/publisher"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/records"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/sqlite"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/websocket"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Starlink dashboard server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// JSON records
	lockTimeout := cfg.Storage.LockTimeout()
	stateRecord, err := records.NewFileStore(filepath.Join(cfg.Storage.DataDir, "active_route.json"), lockTimeout, log)
	if err != nil {
		log.Error("Failed to open route state record", logger.Error(err))
		os.Exit(1)
	}
	poiRecord, err := records.NewFileStore(filepath.Join(cfg.Storage.DataDir, "pois.json"), lockTimeout, log)
	if err != nil {
		log.Error("Failed to open POI record", logger.Error(err))
		os.Exit(1)
	}

	ingestor := route.NewIngestor(route.Options{
		Strategies:           selectionStrategies(cfg.Route.PrimaryStyles),
		MatchToleranceMeters: cfg.Route.MatchToleranceMeters,
	}, log)
	routeManager, err := route.NewManager(cfg.Route.RoutesDir, ingestor, stateRecord, log)
	if err != nil {
		log.Error("Failed to create route manager", logger.Error(err))
		os.Exit(1)
	}

	poiStore := poi.NewStore(poiRecord, log)
	targets := poi.NewTargetProvider(poiStore)

	collector := metrics.NewCollector()

	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	sinks := []tracker.Sink{collector, wsServer}

	var natsPublisher *publisher.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = publisher.NewNATSPublisher(publisher.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ClientName:    cfg.NATS.ClientName,
			LogSubjects:   cfg.NATS.LogSubjects,
		}, collector, log)
		if err != nil {
			// Continue without NATS rather than failing
			log.Error("Failed to connect to NATS", logger.Error(err), logger.String("url", cfg.NATS.URL))
		} else {
			defer natsPublisher.Close()
			sinks = append(sinks, natsPublisher)
		}
	}

	var history *sqlite.HistoryStorage
	if cfg.Storage.HistoryEnabled {
		// Generate today's database filename
		today := time.Now().Format("2006-01-02")
		dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, fmt.Sprintf("history-%s.db", today))

		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
			os.Exit(1)
		}

		log.Info("Using daily history database", logger.String("path", dbPath))

		history, err = sqlite.NewHistoryStorage(dbPath, cfg.Storage.HistoryInterval(), log)
		if err != nil {
			log.Error("Failed to create SQLite storage", logger.Error(err))
			os.Exit(1)
		}
		defer history.Close()
		sinks = append(sinks, history)
	}

	etaCfg := cfg.ETAEngine()
	dispatcher := tracker.NewDispatcher(cfg.Tracking.DispatchBuffer, targets, etaCfg, log, sinks...)

	policy, _ := follower.ParsePolicy(cfg.Tracking.CompletionPolicy)
	trackerService := tracker.NewService(tracker.Config{
		TickInterval:    cfg.Tracking.TickInterval(),
		SpeedWindow:     cfg.Tracking.SpeedWindow(),
		MinMotionMeters: cfg.Tracking.MinMotion(),
		Policy:          policy,
		ETA:             etaCfg,
		SampleBuffer:    cfg.Tracking.SampleBuffer,
	}, dispatcher, collector, log)

	wsServer.SetMessageHandler(websocket.SnapshotResponder{Source: trackerService})
	routeManager.AddListener(trackerService)

	source, err := newTelemetrySource(cfg, routeManager, log)
	if err != nil {
		log.Error("Failed to create telemetry source", logger.Error(err))
		os.Exit(1)
	}

	dispatcher.Start(ctx)
	trackerService.Start(ctx)

	if err := routeManager.Restore(ctx); err != nil {
		log.Warn("Failed to restore active route", logger.Error(err))
	}

	var sourceWg sync.WaitGroup
	if source != nil {
		sourceWg.Add(1)
		go func() {
			defer sourceWg.Done()
			if err := source.Run(ctx, trackerService.Samples()); err != nil {
				log.Error("Telemetry source stopped", logger.Error(err))
			}
		}()
	}

	handler := api.NewHandler(api.Deps{
		Tracker: trackerService,
		Routes:  routeManager,
		POIs:    poiStore,
		Targets: targets,
		History: historyOrNil(history),
		Version: Version,
	}, log)

	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		StaticFilesDir:     cfg.Server.StaticFilesDir,
		WebSocket:          http.HandlerFunc(wsServer.HandleConnection),
	}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	router := api.NewRouter(handler, routerCfg, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	// Stop the source first so no samples arrive after the tick loop exits
	cancel()
	sourceWg.Wait()

	log.Info("Stopping tracker...")
	trackerService.Stop()
	dispatcher.Stop()
	log.Info("Tracker stopped.",
		logger.Int64("dropped_updates", dispatcher.Dropped()))

	log.Info("Server fully stopped")
}

// selectionStrategies puts configured style tags ahead of the name and
// fallback strategies
func selectionStrategies(styles []string) []route.SelectionStrategy {
	if len(styles) == 0 {
		return route.DefaultStrategies()
	}
	return []route.SelectionStrategy{
		route.ByStyleTag{Styles: styles},
		route.ByNamePattern{},
		route.ConcatenateFallback{},
	}
}

func newTelemetrySource(cfg *config.Config, routes *route.Manager, log *logger.Logger) (telemetry.Source, error) {
	switch cfg.Telemetry.Source {
	case "simulated":
		sim := cfg.Telemetry.Simulated
		source := telemetry.NewSimulatedSource(telemetry.SimulatedConfig{
			Interval:     time.Duration(sim.IntervalMs) * time.Millisecond,
			SpeedKnots:   sim.SpeedKnots,
			Start:        geo.Point{Lat: sim.StartLat, Lon: sim.StartLon},
			HeadingDeg:   sim.HeadingDeg,
			JitterMeters: sim.JitterMeters,
		}, log)
		routes.AddListener(source)
		return source, nil
	case "kafka":
		return telemetry.NewKafkaSource(telemetry.KafkaConfig{
			Brokers: cfg.Telemetry.Kafka.Brokers,
			Topic:   cfg.Telemetry.Kafka.Topic,
			GroupID: cfg.Telemetry.Kafka.GroupID,
		}, log), nil
	case "none":
		log.Info("No telemetry source configured, positions come from the active route only")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown telemetry source: %q", cfg.Telemetry.Source)
}

// historyOrNil keeps a nil *HistoryStorage from becoming a non-nil interface
func historyOrNil(h *sqlite.HistoryStorage) api.History {
	if h == nil {
		return nil
	}
	return h
}
