// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ludostock-crawler/internal/extract"
)

// EnvPrefix namespaces environment overrides, e.g. LUDOSTOCK_DB_DSN.
const EnvPrefix = "LUDOSTOCK"

// Supported db.driver values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Reviews ReviewsConfig `mapstructure:"reviews"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	DB      DBConfig      `mapstructure:"db"`
	Report  ReportConfig  `mapstructure:"report"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Ops     OpsConfig     `mapstructure:"ops"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig describes the listing site.
type SourceConfig struct {
	ListingURLTemplate string            `mapstructure:"listing_url_template"`
	StartPage          int               `mapstructure:"start_page"`
	EndPage            int               `mapstructure:"end_page"`
	Selectors          extract.Selectors `mapstructure:"selectors"`
}

// ReviewsConfig describes the review pages crawled by "crawl reviews".
type ReviewsConfig struct {
	ListingURLTemplate string                  `mapstructure:"listing_url_template"`
	StartPage          int                     `mapstructure:"start_page"`
	EndPage            int                     `mapstructure:"end_page"`
	Concurrency        int                     `mapstructure:"concurrency"`
	TimeoutSeconds     int                     `mapstructure:"timeout_seconds"`
	Selectors          extract.ReviewSelectors `mapstructure:"selectors"`
}

// CrawlerConfig governs the crawl scheduler and politeness.
type CrawlerConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	UserAgent          string  `mapstructure:"user_agent"`
	RespectRobots      bool    `mapstructure:"respect_robots"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	Burst              int     `mapstructure:"burst"`
	RecordBuffer       int     `mapstructure:"record_buffer"`
}

// HTTPConfig bounds every outbound request.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	Enabled                     bool `mapstructure:"enabled"`
	Workers                     int  `mapstructure:"workers"`
	MaxConsecutiveStoreFailures int  `mapstructure:"max_consecutive_store_failures"`
	ItemTimeoutSeconds          int  `mapstructure:"item_timeout_seconds"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ReportConfig sets where run artefacts go.
type ReportConfig struct {
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	ExportRecords bool   `mapstructure:"export_records"`
}

// PubSubConfig holds the run-completion topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the operator HTTP server. Port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided Viper instance, so commands can bind
// flags to it before loading.
func LoadWith(v *viper.Viper, path string) (Config, error) {
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
	sel := extract.DefaultSelectors()
	v.SetDefault("source.listing_url_template", "https://trictrac.net/jeux/{page}")
	v.SetDefault("source.start_page", 1)
	v.SetDefault("source.end_page", 1060)
	v.SetDefault("source.selectors.listing_link", sel.ListingLink)
	v.SetDefault("source.selectors.title", sel.Title)
	v.SetDefault("source.selectors.sub_header", sel.SubHeader)
	v.SetDefault("source.selectors.year_title", sel.YearTitle)
	v.SetDefault("source.selectors.spec_table", sel.SpecTable)
	v.SetDefault("source.selectors.contributor_blocks", sel.ContributorBlocks)
	v.SetDefault("source.selectors.image", sel.Image)
	v.SetDefault("source.selectors.image_url_param", sel.ImageURLParam)
	rsel := extract.DefaultReviewSelectors()
	v.SetDefault("reviews.listing_url_template", "https://trictrac.net/avis/{page}")
	v.SetDefault("reviews.start_page", 1)
	v.SetDefault("reviews.end_page", 5778)
	v.SetDefault("reviews.concurrency", 20)
	v.SetDefault("reviews.timeout_seconds", 10)
	v.SetDefault("reviews.selectors.row", rsel.Row)
	v.SetDefault("reviews.selectors.game_title", rsel.GameTitle)
	v.SetDefault("reviews.selectors.game_link", rsel.GameLink)
	v.SetDefault("reviews.selectors.date", rsel.Date)
	v.SetDefault("reviews.selectors.score", rsel.Score)
	v.SetDefault("reviews.selectors.avatar_image", rsel.AvatarImage)
	v.SetDefault("reviews.selectors.avatar_button", rsel.AvatarButton)
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.user_agent", "ludostock-bot/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.record_buffer", 64)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.max_consecutive_store_failures", 20)
	v.SetDefault("ingest.item_timeout_seconds", 30)
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "ludostock.db")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate", true)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.prefix", "runs")
	v.SetDefault("report.export_records", true)
	v.SetDefault("ops.port", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Source.ListingURLTemplate, extract.PagePlaceholder) {
		return fmt.Errorf("source.listing_url_template must contain %s", extract.PagePlaceholder)
	}
	if c.Source.StartPage < 1 || c.Source.EndPage < c.Source.StartPage {
		return fmt.Errorf("source pages must satisfy 1 <= start_page <= end_page (got %d..%d)",
			c.Source.StartPage, c.Source.EndPage)
	}
	if !strings.Contains(c.Reviews.ListingURLTemplate, extract.PagePlaceholder) {
		return fmt.Errorf("reviews.listing_url_template must contain %s", extract.PagePlaceholder)
	}
	if c.Reviews.StartPage < 1 || c.Reviews.EndPage < c.Reviews.StartPage {
		return fmt.Errorf("review pages must satisfy 1 <= start_page <= end_page (got %d..%d)",
			c.Reviews.StartPage, c.Reviews.EndPage)
	}
	if c.Reviews.Concurrency <= 0 || c.Reviews.TimeoutSeconds <= 0 {
		return fmt.Errorf("reviews.concurrency and reviews.timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RateLimitPerSecond < 0 {
		return fmt.Errorf("crawler.rate_limit_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	if c.Ingest.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.item_timeout_seconds must be > 0")
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Ingest.Enabled && c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	if c.Report.Dir == "" {
		return fmt.Errorf("report.dir must be set")
	}
	if (c.PubSub.TopicName == "") != (c.PubSub.ProjectID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be within 0..65535")
	}
	return nil
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ReviewTimeout converts reviews.timeout_seconds into a duration.
func (c Config) ReviewTimeout() time.Duration {
	return time.Duration(c.Reviews.TimeoutSeconds) * time.Second
}

// ItemTimeout converts ingest.item_timeout_seconds into a duration.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Ingest.ItemTimeoutSeconds) * time.Second
}
