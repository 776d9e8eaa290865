// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pinellas-property-scraper/internal/address"
	"github.com/JakeFAU/pinellas-property-scraper/internal/resolver"
)

// EnvPrefix namespaces environment overrides, e.g. PROPERTY_SERVER_PORT.
const EnvPrefix = "PROPERTY"

// Fetch modes.
const (
	ModeStatic   = "static"
	ModeHeadless = "headless"
	ModeAuto     = "auto"
)

// Backend names shared by archive, history and events.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Site    SiteConfig    `mapstructure:"site"`
	Address AddressConfig `mapstructure:"address"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Lookup  LookupConfig  `mapstructure:"lookup"`
	Archive ArchiveConfig `mapstructure:"archive"`
	History HistoryConfig `mapstructure:"history"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig describes the county appraiser site.
type SiteConfig struct {
	County            string            `mapstructure:"county"`
	BaseURL           string            `mapstructure:"base_url"`
	SearchPath        string            `mapstructure:"search_path"`
	SearchQuery       map[string]string `mapstructure:"search_query"`
	SearchParam       string            `mapstructure:"search_param"`
	DetailLinkPattern string            `mapstructure:"detail_link_pattern"`
	ParcelMarkers     []string          `mapstructure:"parcel_markers"`
}

// AddressConfig controls normalization.
type AddressConfig struct {
	StripTokens []string `mapstructure:"strip_tokens"`
}

// FetchConfig selects and tunes the page fetchers.
type FetchConfig struct {
	Mode                string        `mapstructure:"mode"`
	Timeout             time.Duration `mapstructure:"timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	RatePerSecond       float64       `mapstructure:"rate_per_second"`
	RateBurst           int           `mapstructure:"rate_burst"`
	HeadlessMaxParallel int           `mapstructure:"headless_max_parallel"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout"`
	WaitSelector        string        `mapstructure:"wait_selector"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	ChromePath          string        `mapstructure:"chrome_path"`
	PromotionThreshold  int           `mapstructure:"promotion_threshold"`
}

// LookupConfig bounds a whole lookup.
type LookupConfig struct {
	Budget      time.Duration `mapstructure:"budget"`
	TestAddress string        `mapstructure:"test_address"`
}

// ArchiveConfig controls detail-page snapshots.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"gcs_bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// HistoryConfig controls where lookup rows are stored.
type HistoryConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// EventsConfig controls lookup event publishing.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from an optional .env file, the environment and an
// optional config file at path.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.county", "Pinellas")
	v.SetDefault("site.base_url", resolver.DefaultBaseURL)
	v.SetDefault("site.search_path", resolver.DefaultSearchPath)
	v.SetDefault("site.search_query", map[string]string{"qu": "1"})
	v.SetDefault("site.search_param", resolver.DefaultSearchParam)
	v.SetDefault("site.detail_link_pattern", resolver.DefaultDetailLinkPattern)
	v.SetDefault("site.parcel_markers", resolver.DefaultParcelMarkers)
	v.SetDefault("address.strip_tokens", address.DefaultStripTokens)
	v.SetDefault("fetch.mode", ModeStatic)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.rate_per_second", 1.0)
	v.SetDefault("fetch.rate_burst", 2)
	v.SetDefault("fetch.headless_max_parallel", 2)
	v.SetDefault("fetch.navigation_timeout", 45*time.Second)
	v.SetDefault("fetch.wait_selector", "body")
	v.SetDefault("fetch.settle_delay", 2*time.Second)
	v.SetDefault("fetch.chrome_path", "")
	v.SetDefault("fetch.promotion_threshold", 2048)
	v.SetDefault("lookup.budget", 75*time.Second)
	v.SetDefault("lookup.test_address", "1505 MAPLE ST CLEARWATER")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendMemory)
	v.SetDefault("archive.local_dir", "data/snapshots")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("history.backend", BackendMemory)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "property_lookups")
	v.SetDefault("history.max_conns", 4)
	v.SetDefault("history.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("history.auto_migrate", true)
	v.SetDefault("events.backend", BackendMemory)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "property-lookups")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Site.County) == "" {
		return fmt.Errorf("site.county is required")
	}
	if c.Site.DetailLinkPattern != "" {
		if _, err := regexp.Compile(c.Site.DetailLinkPattern); err != nil {
			return fmt.Errorf("site.detail_link_pattern: %w", err)
		}
	}
	switch c.Fetch.Mode {
	case ModeStatic, ModeHeadless, ModeAuto:
	default:
		return fmt.Errorf("fetch.mode must be one of static, headless, auto (got %q)", c.Fetch.Mode)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.Mode != ModeStatic && c.Fetch.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("fetch.headless_max_parallel must be > 0 when headless rendering is enabled")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second must be >= 0")
	}
	if c.Lookup.Budget < 0 {
		return fmt.Errorf("lookup.budget must be >= 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Archive.LocalDir == "" {
				return fmt.Errorf("archive.local_dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend must be one of memory, local, gcs (got %q)", c.Archive.Backend)
		}
	}
	switch c.History.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend must be one of memory, postgres (got %q)", c.History.Backend)
	}
	switch c.Events.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend must be one of memory, pubsub (got %q)", c.Events.Backend)
	}
	return nil
}
