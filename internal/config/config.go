// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/async-scrapers/internal/export"
	"github.com/JakeFAU/async-scrapers/internal/export/postgres"
	"github.com/JakeFAU/async-scrapers/internal/fetcher"
	"github.com/JakeFAU/async-scrapers/internal/policy/ratelimit"
	"github.com/JakeFAU/async-scrapers/internal/scrapers/images"
	"github.com/JakeFAU/async-scrapers/internal/storage"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_RUN_CONCURRENCY.
const EnvPrefix = "SCRAPER"

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Run      RunConfig       `mapstructure:"run"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	Sites    SitesConfig     `mapstructure:"sites"`
	Output   OutputConfig    `mapstructure:"output"`
	Storage  storage.Config  `mapstructure:"storage"`
	Postgres postgres.Config `mapstructure:"postgres"`
	PubSub   PubSubConfig    `mapstructure:"pubsub"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Progress ProgressConfig  `mapstructure:"progress"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// RunConfig controls concurrency and retry. Concurrency has no default and
// must be supplied.
type RunConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	ProgressInterval int           `mapstructure:"progress_interval"`
	// Seed overrides the selected site's seed URL.
	Seed string `mapstructure:"seed"`
}

// HTTPConfig configures both transports.
type HTTPConfig struct {
	// UserAgent is a literal header value or "random".
	UserAgent     string           `mapstructure:"user_agent"`
	Timeout       time.Duration    `mapstructure:"timeout"`
	StreamTimeout time.Duration    `mapstructure:"stream_timeout"`
	MaxBodySize   int              `mapstructure:"max_body_size"`
	RespectRobots bool             `mapstructure:"respect_robots"`
	RateLimit     ratelimit.Config `mapstructure:"rate_limit"`
}

// SitesConfig holds per-site seeds.
type SitesConfig struct {
	Metro   SiteConfig  `mapstructure:"metro"`
	Watches SiteConfig  `mapstructure:"watches"`
	Images  ImageConfig `mapstructure:"images"`
}

// SiteConfig names the seed URL of a site.
type SiteConfig struct {
	Seed string `mapstructure:"seed"`
}

// ImageConfig configures the image downloader.
type ImageConfig struct {
	// Seed is the flat gallery index.
	Seed string `mapstructure:"seed"`
	// NestedSeed is the index used when Categories is set.
	NestedSeed string `mapstructure:"nested_seed"`
	// Categories adds the intermediate category level.
	Categories bool `mapstructure:"categories"`
	// GalleryBase is where category pages' gallery links resolve; empty
	// means the depth2/ directory under the seed.
	GalleryBase string `mapstructure:"gallery_base"`
}

// OutputConfig controls record files.
type OutputConfig struct {
	Dir     string   `mapstructure:"dir"`
	Formats []string `mapstructure:"formats"`
}

// PubSubConfig enables publishing the run summary when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig sets the Prometheus listener; empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig tunes the progress hub batching.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FlagKeys maps CLI flag names to configuration keys.
var FlagKeys = map[string]string{
	"concurrency":  "run.concurrency",
	"max-attempts": "run.max_attempts",
	"seed":         "run.seed",
	"output-dir":   "output.dir",
	"user-agent":   "http.user_agent",
	"storage":      "storage.backend",
	"metrics-addr": "metrics.addr",
	"dev":          "logging.development",
	"log-level":    "logging.level",
}

// Load builds a Config from defaults, an optional file at path, SCRAPER_
// environment variables and any flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
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
	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	// AutomaticEnv only applies to keys viper already knows.
	if err := v.BindEnv("run.concurrency"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
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
	v.SetDefault("run.max_attempts", 5)
	v.SetDefault("run.base_delay", "500ms")
	v.SetDefault("run.max_delay", "30s")
	v.SetDefault("run.progress_interval", 100)
	v.SetDefault("run.seed", "")
	v.SetDefault("http.user_agent", fetcher.RandomUserAgent)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.stream_timeout", "2m")
	v.SetDefault("http.max_body_size", 10*1024*1024)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_limit.rps", 0)
	v.SetDefault("http.rate_limit.burst", 1)
	v.SetDefault("sites.metro.seed", "https://online.metro-cc.ru/category/chaj-kofe-kakao/kofe?in_stock=1")
	v.SetDefault("sites.watches.seed", "https://parsinger.ru/html/index1_page_1.html")
	v.SetDefault("sites.images.seed", images.DefaultSeed)
	v.SetDefault("sites.images.nested_seed", images.NestedSeed)
	v.SetDefault("sites.images.categories", false)
	v.SetDefault("sites.images.gallery_base", "")
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.formats", []string{"csv", "json"})
	v.SetDefault("storage.backend", storage.BackendLocal)
	v.SetDefault("storage.local.base_dir", "out/images")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "images")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "images")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.record_table", "scraped_records")
	v.SetDefault("postgres.run_table", "scrape_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be > 0 (set --concurrency or SCRAPER_RUN_CONCURRENCY)")
	}
	if c.Run.MaxAttempts <= 0 {
		return fmt.Errorf("run.max_attempts must be > 0")
	}
	if c.Run.BaseDelay < 0 || c.Run.MaxDelay < 0 {
		return fmt.Errorf("run delays must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if _, err := export.ParseFormats(c.Output.Formats); err != nil {
		return fmt.Errorf("output.formats: %w", err)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", storage.BackendLocal, storage.BackendMemory:
	case storage.BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case storage.BackendS3:
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("storage.s3: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Transport returns the shared transport settings.
func (c Config) Transport() fetcher.Config {
	return fetcher.Config{
		UserAgent:           c.HTTP.UserAgent,
		Timeout:             c.HTTP.Timeout,
		MaxIdleConnsPerHost: c.Run.Concurrency,
	}
}

// SeedFor returns the run seed override or the site default.
func (c Config) SeedFor(site string) string {
	if c.Run.Seed != "" {
		return c.Run.Seed
	}
	switch site {
	case "metro":
		return c.Sites.Metro.Seed
	case "watches":
		return c.Sites.Watches.Seed
	case "images":
		if c.Sites.Images.Categories {
			return c.Sites.Images.NestedSeed
		}
		return c.Sites.Images.Seed
	default:
		return ""
	}
}

// ImageOptions returns the image plan layout for the configured seed.
func (c Config) ImageOptions() images.Options {
	opts := images.Options{Categories: c.Sites.Images.Categories}
	if opts.Categories {
		opts.GalleryBase = c.Sites.Images.GalleryBase
		if opts.GalleryBase == "" {
			opts.GalleryBase = images.GalleryBase(c.SeedFor("images"))
		}
	}
	return opts
}
