package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP server settings
	Feed    FeedConfig    `toml:"feed"`    // Network datafeed source settings
	RefData RefDataConfig `toml:"refdata"` // Reference data (boundaries, airports, fleet) settings
	Fusion  FusionConfig  `toml:"fusion"`  // Fusion pipeline settings
	Weather WeatherConfig `toml:"wx"`      // Weather feed fetching and caching settings
	Storage StorageConfig `toml:"storage"` // Data persistence settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the API and WebSocket endpoints
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 or 0.0.0.0)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
}

// FeedConfig contains the network datafeed source configuration
type FeedConfig struct {
	URL                   string `toml:"url"`                     // URL of the full-snapshot datafeed JSON document
	TransceiversURL       string `toml:"transceivers_url"`        // URL of the transceivers JSON document (radio positions keyed by callsign)
	APIToken              string `toml:"api_token"`               // Optional bearer token for the feed (env: FEED_API_TOKEN)
	FetchIntervalSecs     int    `toml:"fetch_interval_seconds"`  // How often to pull a new snapshot (one fusion cycle per pull)
	RequestTimeoutSecs    int    `toml:"request_timeout_seconds"` // HTTP timeout for feed requests
	WebSocketDeltaUpdates bool   `toml:"websocket_delta_updates"` // Enable WebSocket delta streaming to subscribers
}

// RefDataConfig contains reference data source configuration
type RefDataConfig struct {
	BoundariesURL      string `toml:"boundaries_url"`          // Versioned FIR/TRACON boundary collection URL
	AirportsURL        string `toml:"airports_url"`            // Batched airport coordinate lookup URL
	FleetURL           string `toml:"fleet_url"`               // Fleet registry lookup URL
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // HTTP timeout for reference data requests
	AirportCacheSize   int    `toml:"airport_cache_size"`      // LRU size for resolved airport coordinates
}

// FusionConfig contains settings for the fusion pipeline
type FusionConfig struct {
	// Worker pool size for the per-pilot merge phase. Each pilot merge is
	// independent; the batched coordinate lookup is the only sync point.
	MergeWorkers int `toml:"merge_workers"`

	// Default taxi time in minutes used when estimating on-block times
	TaxiTimeMinutes int `toml:"taxi_time_minutes"`

	// Number of consecutive stationary cycles in Taxi In before On Block
	StopCyclesToOnBlock int `toml:"stop_cycles_to_on_block"`
}

// WeatherConfig contains settings for the weather text feeds
type WeatherConfig struct {
	METARURL               string `toml:"metar_url"`                // Gzip-compressed XML document of current weather reports
	TAFURL                 string `toml:"taf_url"`                  // Gzip-compressed XML document of forecasts
	RefreshIntervalMinutes int    `toml:"refresh_interval_minutes"` // Minimum interval between refreshes
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`  // HTTP timeout for weather requests
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for SQLite database files (daily files)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// Secrets may live in a .env file next to the binary; a missing file is fine
	_ = godotenv.Load()

	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
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

// applyEnvOverrides lets secrets come from the environment instead of the
// config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FEED_API_TOKEN"); v != "" {
		c.Feed.APIToken = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}

	// Validate feed config
	if c.Feed.URL == "" {
		return fmt.Errorf("feed url is required")
	}
	if c.Feed.FetchIntervalSecs <= 0 {
		c.Feed.FetchIntervalSecs = 15
	}
	if c.Feed.RequestTimeoutSecs <= 0 {
		c.Feed.RequestTimeoutSecs = 10
	}

	// Validate refdata config
	if c.RefData.BoundariesURL == "" {
		return fmt.Errorf("refdata boundaries_url is required")
	}
	if c.RefData.AirportsURL == "" {
		return fmt.Errorf("refdata airports_url is required")
	}
	if c.RefData.RequestTimeoutSecs <= 0 {
		c.RefData.RequestTimeoutSecs = 10
	}
	if c.RefData.AirportCacheSize <= 0 {
		c.RefData.AirportCacheSize = 8192
	}

	// Validate fusion config
	if c.Fusion.MergeWorkers <= 0 {
		c.Fusion.MergeWorkers = 8
	}
	if c.Fusion.TaxiTimeMinutes <= 0 {
		c.Fusion.TaxiTimeMinutes = 10
	}
	if c.Fusion.StopCyclesToOnBlock <= 0 {
		c.Fusion.StopCyclesToOnBlock = 5
	}

	// Validate weather config
	if c.Weather.RefreshIntervalMinutes <= 0 {
		c.Weather.RefreshIntervalMinutes = 10
	}
	if c.Weather.RequestTimeoutSeconds <= 0 {
		c.Weather.RequestTimeoutSeconds = 30
	}

	// Validate storage config
	if c.Storage.SQLiteBasePath == "" {
		c.Storage.SQLiteBasePath = "data"
	}

	// Validate logging config
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}
