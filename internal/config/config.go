// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sink providers.
const (
	SinkSupabase = "supabase"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkMemory   = "memory"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Fetch modes.
const (
	ModeHTTP     = "http"
	ModeHeadless = "headless"
)

// Config captures all monitor configuration knobs loaded via Viper.
type Config struct {
	Source       SourceConfig       `mapstructure:"source"`
	Extract      ExtractConfig      `mapstructure:"extract"`
	Sink         SinkConfig         `mapstructure:"sink"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// SourceConfig describes the page being scraped.
type SourceConfig struct {
	URL            string `mapstructure:"url"`
	Mode           string `mapstructure:"mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// ExtractConfig holds the markers used to locate containers and labels.
type ExtractConfig struct {
	ContainerSelector string `mapstructure:"container_selector"`
	NodeSelector      string `mapstructure:"node_selector"`
	NameToken         string `mapstructure:"name_token"`
	StatusToken       string `mapstructure:"status_token"`
	StatusExclude     string `mapstructure:"status_exclude"`
}

// SinkConfig selects and configures the persistence backend.
type SinkConfig struct {
	Provider string         `mapstructure:"provider"`
	Table    string         `mapstructure:"table"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// SupabaseConfig holds the hosted project credentials.
type SupabaseConfig struct {
	URL            string `mapstructure:"url"`
	Key            string `mapstructure:"key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PostgresConfig controls the direct Postgres connection pool.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig points at a local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig controls where raw pages are kept.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the Pushgateway target.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig controls the console and rolling file sinks.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// OrchestratorConfig is populated from the CI runner's environment.
type OrchestratorConfig struct {
	Marker      string `mapstructure:"marker"`
	SummaryPath string `mapstructure:"summary_path"`
}

// Active reports whether the job runs under the orchestrator.
func (o OrchestratorConfig) Active() bool {
	return strings.TrimSpace(o.Marker) != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("source.url", "http://mout.cime.es/ParkingsPlatges.aspx")
	v.SetDefault("source.mode", ModeHTTP)
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("extract.container_selector", "div.PLA_linia")
	v.SetDefault("extract.node_selector", "span")
	v.SetDefault("extract.name_token", "Content1_Label")
	v.SetDefault("extract.status_token", "Content1_lb")
	v.SetDefault("extract.status_exclude", "Label")
	v.SetDefault("sink.provider", SinkSupabase)
	v.SetDefault("sink.table", "parking_status")
	v.SetDefault("sink.supabase.url", "")
	v.SetDefault("sink.supabase.key", "")
	v.SetDefault("sink.supabase.timeout_seconds", 30)
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.max_conns", 2)
	v.SetDefault("sink.sqlite.path", "data/parking.db")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.local_dir", "data/pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.timeout_seconds", 5)
	v.SetDefault("metrics.job", "beach_parking_monitor")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "parking_monitor.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)
	v.SetDefault("orchestrator.marker", "")
	v.SetDefault("orchestrator.summary_path", "")
}

// bindEnv maps the well-known unprefixed variables used by the hosted backend
// and the CI runner.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"sink.supabase.url":         "SUPABASE_URL",
		"sink.supabase.key":         "SUPABASE_KEY",
		"orchestrator.marker":       "GITHUB_ACTIONS",
		"orchestrator.summary_path": "GITHUB_STEP_SUMMARY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Source.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.url must be an absolute URL, got %q", c.Source.URL)
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	switch c.Source.Mode {
	case ModeHTTP, ModeHeadless:
	default:
		return fmt.Errorf("unknown source.mode %q", c.Source.Mode)
	}
	if c.Extract.ContainerSelector == "" || c.Extract.NameToken == "" || c.Extract.StatusToken == "" {
		return fmt.Errorf("extract.container_selector, extract.name_token and extract.status_token are required")
	}
	switch c.Sink.Provider {
	case SinkSupabase, SinkPostgres, SinkSQLite, SinkMemory:
	default:
		return fmt.Errorf("unknown sink.provider %q", c.Sink.Provider)
	}
	if c.Sink.Table == "" {
		return fmt.Errorf("sink.table is required")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveLocal, ArchiveMemory:
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// PushTimeout bounds one Pushgateway request.
func (c Config) PushTimeout() time.Duration {
	return time.Duration(c.Metrics.TimeoutSeconds) * time.Second
}

// FetchTimeout converts the source timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}
