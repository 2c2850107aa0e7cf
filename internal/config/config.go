// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store, snapshot and publisher backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Detail    DetailConfig    `mapstructure:"detail"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the job API server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the plain HTTP tier and the headers shared by every tier.
type HTTPConfig struct {
	UserAgent string            `mapstructure:"user_agent"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Headers   map[string]string `mapstructure:"headers"`
}

// HeadlessConfig configures the rendered tier.
type HeadlessConfig struct {
	// Backend is chromedp, rod or none.
	Backend       string        `mapstructure:"backend"`
	BrowserPath   string        `mapstructure:"browser_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Settle        time.Duration `mapstructure:"settle"`
	ListingScroll bool          `mapstructure:"listing_scroll"`
	DetailScroll  bool          `mapstructure:"detail_scroll"`
	ScrollPause   time.Duration `mapstructure:"scroll_pause"`
}

// RetryConfig bounds attempts per tier.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Backoff     string        `mapstructure:"backoff"`
}

// ListingConfig covers listing acquisition and parsing.
type ListingConfig struct {
	AlternateURLs    []string         `mapstructure:"alternate_urls"`
	DetailPatterns   []string         `mapstructure:"detail_patterns"`
	BroadPatterns    []string         `mapstructure:"broad_patterns"`
	MinTitleRunes    int              `mapstructure:"min_title_runes"`
	MaxIndustryRunes int              `mapstructure:"max_industry_runes"`
	BaseURL          string           `mapstructure:"base_url"`
	API              ListingAPIConfig `mapstructure:"api"`
}

// ListingAPIConfig configures the structured list endpoint tier.
type ListingAPIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	PageSize int           `mapstructure:"page_size"`
	Window   time.Duration `mapstructure:"window"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// DetailURLTemplate turns an infoCode into a report link; it must contain %s.
	DetailURLTemplate string            `mapstructure:"detail_url_template"`
	Params            map[string]string `mapstructure:"params"`
}

// DetailConfig tunes body extraction.
type DetailConfig struct {
	MinTextRunes  int    `mapstructure:"min_text_runes"`
	MinParagraphs int    `mapstructure:"min_paragraphs"`
	BaseURL       string `mapstructure:"base_url"`
}

// WorkerConfig governs job execution.
type WorkerConfig struct {
	ListingURL      string        `mapstructure:"listing_url"`
	MaxReports      int           `mapstructure:"max_reports"`
	MinContentRunes int           `mapstructure:"min_content_runes"`
	DetailInterval  time.Duration `mapstructure:"detail_interval"`
	Topic           string        `mapstructure:"topic"`
	QueueDepth      int           `mapstructure:"queue_depth"`
}

// SnapshotConfig selects where fetched pages are archived.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StoreConfig selects report and job persistence.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	ReportsTable    string        `mapstructure:"reports_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// PublisherConfig selects where analysis requests go.
type PublisherConfig struct {
	Backend     string `mapstructure:"backend"`
	ProjectID   string `mapstructure:"project_id"`
	VerifyTopic bool   `mapstructure:"verify_topic"`
}

// ProgressConfig controls the job event stream.
type ProgressConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	LogEvents     bool          `mapstructure:"log_events"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "25s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")

	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.headers", map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Referer":         "https://data.eastmoney.com/",
	})

	v.SetDefault("headless.backend", "chromedp")
	v.SetDefault("headless.timeout", "45s")
	v.SetDefault("headless.settle", "5s")
	v.SetDefault("headless.listing_scroll", true)
	v.SetDefault("headless.detail_scroll", false)
	v.SetDefault("headless.scroll_pause", "1s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.backoff", "exponential")

	v.SetDefault("listing.alternate_urls", []string{
		"https://data.eastmoney.com/report/industry.jshtml",
		"https://data.eastmoney.com/report/stock.jshtml",
	})
	v.SetDefault("listing.detail_patterns", []string{"zw_industry.jshtml", "zw_stock.jshtml"})
	v.SetDefault("listing.broad_patterns", []string{"report", "research", "pdf"})
	v.SetDefault("listing.min_title_runes", 5)
	v.SetDefault("listing.max_industry_runes", 10)
	v.SetDefault("listing.base_url", "https://data.eastmoney.com/")
	v.SetDefault("listing.api.enabled", true)
	v.SetDefault("listing.api.endpoint", "https://reportapi.eastmoney.com/report/list")
	v.SetDefault("listing.api.page_size", 50)
	v.SetDefault("listing.api.window", "720h")
	v.SetDefault("listing.api.timeout", "30s")
	v.SetDefault("listing.api.detail_url_template", "https://data.eastmoney.com/report/zw_industry.jshtml?infocode=%s")

	v.SetDefault("detail.min_text_runes", 200)
	v.SetDefault("detail.min_paragraphs", 5)
	v.SetDefault("detail.base_url", "https://data.eastmoney.com/")

	v.SetDefault("worker.listing_url", "https://data.eastmoney.com/report/industry.jshtml")
	v.SetDefault("worker.max_reports", 5)
	v.SetDefault("worker.min_content_runes", 200)
	v.SetDefault("worker.detail_interval", "2s")
	v.SetDefault("worker.topic", "report-analysis")
	v.SetDefault("worker.queue_depth", 16)

	v.SetDefault("snapshot.backend", BackendNone)
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("snapshot.local_dir", "./snapshots")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.reports_table", "reports")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.migrate", true)

	v.SetDefault("publisher.backend", BackendMemory)

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.flush_interval", "500ms")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	switch strings.ToLower(c.Headless.Backend) {
	case "chromedp", "rod", BackendNone:
	default:
		return fmt.Errorf("headless.backend %q is not one of chromedp, rod, none", c.Headless.Backend)
	}
	if c.Headless.Timeout <= 0 {
		return fmt.Errorf("headless.timeout must be > 0")
	}
	if c.Headless.Settle < 0 || c.Headless.ScrollPause < 0 {
		return fmt.Errorf("headless.settle and headless.scroll_pause must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	switch c.Retry.Backoff {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("retry.backoff %q is not one of fixed, exponential", c.Retry.Backoff)
	}
	for _, u := range c.Listing.AlternateURLs {
		if err := absoluteURL("listing.alternate_urls", u); err != nil {
			return err
		}
	}
	if c.Listing.API.Enabled {
		if err := absoluteURL("listing.api.endpoint", c.Listing.API.Endpoint); err != nil {
			return err
		}
		if c.Listing.API.Timeout <= 0 {
			return fmt.Errorf("listing.api.timeout must be > 0")
		}
		if !strings.Contains(c.Listing.API.DetailURLTemplate, "%s") {
			return fmt.Errorf("listing.api.detail_url_template must contain %%s")
		}
	}
	if err := absoluteURL("worker.listing_url", c.Worker.ListingURL); err != nil {
		return err
	}
	if c.Worker.MaxReports <= 0 {
		return fmt.Errorf("worker.max_reports must be > 0")
	}
	if c.Worker.DetailInterval < 0 {
		return fmt.Errorf("worker.detail_interval must not be negative")
	}
	if c.Worker.Topic == "" {
		return fmt.Errorf("worker.topic is required")
	}
	switch c.Snapshot.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Snapshot.LocalDir == "" {
			return fmt.Errorf("snapshot.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not one of none, memory, local, gcs", c.Snapshot.Backend)
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, postgres", c.Store.Backend)
	}
	switch c.Publisher.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of memory, pubsub", c.Publisher.Backend)
	}
	if c.Progress.Enabled && (c.Progress.BufferSize < 0 || c.Progress.FlushInterval < 0) {
		return fmt.Errorf("progress.buffer_size and progress.flush_interval must not be negative")
	}
	return nil
}

// HTTPHeaders returns the configured request headers in canonical form.
func (c HTTPConfig) HTTPHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

func absoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}
