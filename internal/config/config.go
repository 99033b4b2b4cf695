package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server    ServerConfig    `toml:"server"`    // HTTP server settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Tracking  TrackingConfig  `toml:"tracking"`  // Tick loop, speed smoothing and route following
	ETA       ETAConfig       `toml:"eta"`       // ETA blending and departure detection
	Route     RouteConfig     `toml:"route"`     // KML route library settings
	Telemetry TelemetryConfig `toml:"telemetry"` // Position source selection
	NATS      NATSConfig      `toml:"nats"`      // Update publishing over NATS
	Metrics   MetricsConfig   `toml:"metrics"`   // Prometheus exposition
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir     string   `toml:"static_files_dir"`      // Dashboard assets; empty disables static serving
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DataDir             string `toml:"data_dir"`                 // Directory for JSON records (POIs, active route)
	SQLiteBasePath      string `toml:"sqlite_base_path"`         // Directory for the history database
	HistoryEnabled      bool   `toml:"history_enabled"`          // Record positions and route events in SQLite
	HistoryIntervalSecs int    `toml:"history_interval_seconds"` // Minimum spacing of stored positions
	LockTimeoutMs       int    `toml:"lock_timeout_ms"`          // How long a record write waits for the file lock
}

// TrackingConfig contains tick loop settings
type TrackingConfig struct {
	TickIntervalMs   int      `toml:"tick_interval_ms"`   // Follower tick period
	SpeedWindowSecs  int      `toml:"speed_window_seconds"`
	MinMotionMeters  *float64 `toml:"min_motion_meters"` // Displacement below this is treated as jitter; unset means 10, 0 disables the filter
	CompletionPolicy string   `toml:"completion_policy"` // loop, stop or reverse
	SampleBuffer     int      `toml:"sample_buffer"`
	DispatchBuffer   int      `toml:"dispatch_buffer"`
}

// ETAConfig contains ETA calculation settings
type ETAConfig struct {
	BlendFactor             *float64 `toml:"blend_factor"` // Weight of the speed ETA when blending with the schedule; unset means 0.5
	DepartureThresholdKnots float64  `toml:"departure_threshold_knots"`
	MinSpeedKnots           float64  `toml:"min_speed_knots"` // Below this no speed ETA is produced
}

// RouteConfig contains route library settings
type RouteConfig struct {
	RoutesDir            string   `toml:"routes_dir"`
	MatchToleranceMeters float64  `toml:"match_tolerance_meters"` // Max distance between a named placemark and its vertex
	PrimaryStyles        []string `toml:"primary_styles"`         // Style tags that mark the primary path
}

// TelemetryConfig selects and configures the position source
type TelemetryConfig struct {
	Source    string          `toml:"source"` // simulated, kafka or none
	Simulated SimulatedConfig `toml:"simulated"`
	Kafka     KafkaConfig     `toml:"kafka"`
}

// SimulatedConfig configures synthetic motion
type SimulatedConfig struct {
	IntervalMs   int     `toml:"interval_ms"`
	SpeedKnots   float64 `toml:"speed_knots"`
	StartLat     float64 `toml:"start_lat"`
	StartLon     float64 `toml:"start_lon"`
	HeadingDeg   float64 `toml:"heading_deg"`
	JitterMeters float64 `toml:"jitter_meters"`
}

// KafkaConfig configures the Kafka telemetry consumer
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// NATSConfig configures update publishing
type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	ClientName    string `toml:"client_name"`
	LogSubjects   bool   `toml:"log_subjects"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load loads the configuration from the specified file path and applies
// environment overrides
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	config.applyEnv()

	return &config, nil
}

// LoadWithFallback tries to load config from multiple locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROUTES_DIR"); v != "" {
		c.Route.RoutesDir = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Telemetry.Kafka.Brokers = brokers
	}
	if v := os.Getenv("TELEMETRY_SOURCE"); v != "" {
		c.Telemetry.Source = v
	}
}

// Validate fills in defaults and validates the configuration
func (c *Config) Validate() error {
	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs <= 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.WriteTimeoutSecs <= 0 {
		c.Server.WriteTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs <= 0 {
		c.Server.IdleTimeoutSecs = 60
	}
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}

	// Storage
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = c.Storage.DataDir
	}
	if c.Storage.HistoryIntervalSecs <= 0 {
		c.Storage.HistoryIntervalSecs = 10
	}
	if c.Storage.LockTimeoutMs <= 0 {
		c.Storage.LockTimeoutMs = 2000
	}

	// Tracking
	if c.Tracking.TickIntervalMs <= 0 {
		c.Tracking.TickIntervalMs = 1000
	}
	if c.Tracking.SpeedWindowSecs <= 0 {
		c.Tracking.SpeedWindowSecs = 120
	}
	if c.Tracking.MinMotionMeters == nil {
		motion := telemetry.DefaultMinMotionMeters
		c.Tracking.MinMotionMeters = &motion
	}
	if *c.Tracking.MinMotionMeters < 0 {
		return fmt.Errorf("min_motion_meters must not be negative, got %v", *c.Tracking.MinMotionMeters)
	}
	policy, err := follower.ParsePolicy(c.Tracking.CompletionPolicy)
	if err != nil {
		return err
	}
	c.Tracking.CompletionPolicy = string(policy)
	if c.Tracking.SampleBuffer <= 0 {
		c.Tracking.SampleBuffer = 256
	}
	if c.Tracking.DispatchBuffer <= 0 {
		c.Tracking.DispatchBuffer = 64
	}

	// ETA
	def := eta.DefaultConfig()
	if c.ETA.BlendFactor == nil {
		blend := def.BlendFactor
		c.ETA.BlendFactor = &blend
	}
	if c.ETA.MinSpeedKnots == 0 {
		c.ETA.MinSpeedKnots = def.MinSpeedKnots
	}
	if c.ETA.DepartureThresholdKnots == 0 {
		c.ETA.DepartureThresholdKnots = def.DepartureThresholdKnots
	}
	if err := c.ETAEngine().Validate(); err != nil {
		return fmt.Errorf("invalid eta config: %w", err)
	}

	// Route
	if c.Route.RoutesDir == "" {
		c.Route.RoutesDir = "routes"
	}
	if c.Route.MatchToleranceMeters < 0 {
		return fmt.Errorf("match_tolerance_meters must not be negative, got %v", c.Route.MatchToleranceMeters)
	}

	// Telemetry
	if c.Telemetry.Source == "" {
		c.Telemetry.Source = "simulated"
	}
	switch c.Telemetry.Source {
	case "simulated":
		if c.Telemetry.Simulated.IntervalMs <= 0 {
			c.Telemetry.Simulated.IntervalMs = 1000
		}
		if c.Telemetry.Simulated.SpeedKnots <= 0 {
			c.Telemetry.Simulated.SpeedKnots = 450
		}
	case "kafka":
		if len(c.Telemetry.Kafka.Brokers) == 0 {
			return fmt.Errorf("telemetry.kafka.brokers is required when source is kafka")
		}
		if c.Telemetry.Kafka.Topic == "" {
			return fmt.Errorf("telemetry.kafka.topic is required when source is kafka")
		}
		if c.Telemetry.Kafka.GroupID == "" {
			c.Telemetry.Kafka.GroupID = "starlink-dashboard"
		}
	case "none":
	default:
		return fmt.Errorf("invalid telemetry source: %s (must be 'simulated', 'kafka' or 'none')", c.Telemetry.Source)
	}

	// NATS
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			c.NATS.SubjectPrefix = "dashboard"
		}
	}

	// Metrics
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %s", c.Metrics.Path)
	}

	return nil
}

// ETAEngine converts the section into calculator settings
func (c *Config) ETAEngine() eta.Config {
	blend := eta.DefaultConfig().BlendFactor
	if c.ETA.BlendFactor != nil {
		blend = *c.ETA.BlendFactor
	}
	return eta.Config{
		BlendFactor:             blend,
		DepartureThresholdKnots: c.ETA.DepartureThresholdKnots,
		MinSpeedKnots:           c.ETA.MinSpeedKnots,
	}
}

// TickInterval returns the tracker tick period
func (t TrackingConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

// SpeedWindow returns the speed smoothing window
func (t TrackingConfig) SpeedWindow() time.Duration {
	return time.Duration(t.SpeedWindowSecs) * time.Second
}

// MinMotion returns the jitter threshold in meters
func (t TrackingConfig) MinMotion() float64 {
	if t.MinMotionMeters == nil {
		return telemetry.DefaultMinMotionMeters
	}
	return *t.MinMotionMeters
}

// LockTimeout returns the record lock timeout
func (s StorageConfig) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutMs) * time.Millisecond
}

// HistoryInterval returns the minimum spacing of stored positions
func (s StorageConfig) HistoryInterval() time.Duration {
	return time.Duration(s.HistoryIntervalSecs) * time.Second
}
