package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Import    ImportConfig    `mapstructure:"import"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Functions FunctionsConfig `mapstructure:"functions"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the gorm driver. Postgres reads URL, SQLite reads Path.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type ImportConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	WavePause        time.Duration `mapstructure:"wave_pause"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	FailureTolerance float64       `mapstructure:"failure_tolerance"`
	PageSize         int           `mapstructure:"page_size"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SafetyCap        int           `mapstructure:"safety_cap"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
}

type BootstrapConfig struct {
	MinThreshold   int64         `mapstructure:"min_threshold"`
	TargetCount    int64         `mapstructure:"target_count"`
	Mode           string        `mapstructure:"mode"` // local or remote
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MonitorTimeout time.Duration `mapstructure:"monitor_timeout"`
	FunctionName   string        `mapstructure:"function_name"`
}

type SourcesConfig struct {
	USGS        LiveSourceConfig      `mapstructure:"usgs"`
	NPS         LiveSourceConfig      `mapstructure:"nps"`
	OSM         LiveSourceConfig      `mapstructure:"osm"`
	ParksCanada SyntheticSourceConfig `mapstructure:"parks_canada"`
	StateParks  SyntheticSourceConfig `mapstructure:"state_parks"`
}

// LiveSourceConfig configures an HTTP-backed adapter. With Live=false the
// source type is served by the deterministic generator instead.
type LiveSourceConfig struct {
	Live    bool   `mapstructure:"live"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type SyntheticSourceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Total   int  `mapstructure:"total"`
}

// StorageConfig configures the S3-compatible archive for raw fetch snapshots.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// QdrantConfig configures the trail geo index.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// FunctionsConfig points at the hosted backend's edge functions.
type FunctionsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("sources.nps.api_key", "NPS_API_KEY")
	v.BindEnv("functions.base_url", "FUNCTIONS_URL")
	v.BindEnv("functions.api_key", "FUNCTIONS_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("sentry.dsn", "SENTRY_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/trails.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("import.batch_size", 1000)
	v.SetDefault("import.concurrency", 2)
	v.SetDefault("import.wave_pause", 100*time.Millisecond)
	v.SetDefault("import.retry_attempts", 3)
	v.SetDefault("import.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("import.retry_max_delay", 5*time.Second)
	v.SetDefault("import.fetch_concurrency", 2)
	v.SetDefault("import.failure_tolerance", 0.0)
	v.SetDefault("import.page_size", 1000)
	v.SetDefault("import.page_delay", 250*time.Millisecond)
	v.SetDefault("import.request_timeout", 30*time.Second)
	v.SetDefault("import.safety_cap", 50000)
	v.SetDefault("import.sync_interval", 24*time.Hour)

	v.SetDefault("bootstrap.min_threshold", 1000)
	v.SetDefault("bootstrap.target_count", 10000)
	v.SetDefault("bootstrap.mode", "local")
	v.SetDefault("bootstrap.poll_interval", 2500*time.Millisecond)
	v.SetDefault("bootstrap.monitor_timeout", 10*time.Minute)
	v.SetDefault("bootstrap.function_name", "import-trails")

	v.SetDefault("sources.usgs.live", true)
	v.SetDefault("sources.usgs.base_url", "https://carto.nationalmap.gov/arcgis/rest/services/transportation/MapServer/37")
	v.SetDefault("sources.nps.live", true)
	v.SetDefault("sources.nps.base_url", "https://developer.nps.gov/api/v1")
	v.SetDefault("sources.osm.live", true)
	v.SetDefault("sources.osm.base_url", "https://overpass-api.de/api")
	v.SetDefault("sources.parks_canada.enabled", true)
	v.SetDefault("sources.parks_canada.total", 2500)
	v.SetDefault("sources.state_parks.enabled", true)
	v.SetDefault("sources.state_parks.total", 5000)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "trail-imports")
	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "trails")
	v.SetDefault("functions.timeout", 30*time.Second)
	v.SetDefault("sentry.environment", "local")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive, got %d", c.Import.BatchSize)
	}
	if c.Import.Concurrency <= 0 {
		return fmt.Errorf("import.concurrency must be positive, got %d", c.Import.Concurrency)
	}
	if c.Import.SafetyCap <= 0 || c.Import.SafetyCap > 100000 {
		return fmt.Errorf("import.safety_cap must be in (0, 100000], got %d", c.Import.SafetyCap)
	}
	if c.Import.FailureTolerance < 0 || c.Import.FailureTolerance > 1 {
		return fmt.Errorf("import.failure_tolerance must be within [0,1], got %v", c.Import.FailureTolerance)
	}
	if c.Bootstrap.MinThreshold < 0 {
		return fmt.Errorf("bootstrap.min_threshold must not be negative, got %d", c.Bootstrap.MinThreshold)
	}
	if c.Bootstrap.TargetCount < c.Bootstrap.MinThreshold {
		return fmt.Errorf("bootstrap.target_count (%d) must be at least bootstrap.min_threshold (%d)",
			c.Bootstrap.TargetCount, c.Bootstrap.MinThreshold)
	}
	switch c.Bootstrap.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("bootstrap.mode must be local or remote, got %q", c.Bootstrap.Mode)
	}
	if c.Bootstrap.Mode == "remote" && c.Functions.BaseURL == "" {
		return fmt.Errorf("bootstrap.mode remote requires functions.base_url")
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres driver")
	}
	return nil
}
