// Package config loads and validates generator configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/n0n1m/amneziawg-openwrt/internal/release"
)

// DefaultSiteURL is the public OpenWrt download site.
const DefaultSiteURL = "https://downloads.openwrt.org/"

// Config captures all generator configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Filters FiltersConfig `mapstructure:"filters"`
	Details DetailsConfig `mapstructure:"details"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SiteConfig points at the download site (or a mirror of it).
type SiteConfig struct {
	URL string `mapstructure:"url"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// FetchConfig governs fan-out within a discovery phase.
type FetchConfig struct {
	// MaxParallel caps in-flight requests per phase; 0 means no cap.
	MaxParallel int `mapstructure:"max_parallel"`
}

// FilterConfig lists the names allowed through a discovery phase. An empty
// list allows everything.
type FilterConfig struct {
	Targets    []string `mapstructure:"targets"`
	Subtargets []string `mapstructure:"subtargets"`
}

// FiltersConfig holds separate allow-lists for dated releases and snapshots.
type FiltersConfig struct {
	Release  FilterConfig `mapstructure:"release"`
	Snapshot FilterConfig `mapstructure:"snapshot"`
}

// DetailsConfig selects the kernel package extractor.
type DetailsConfig struct {
	Extractor string `mapstructure:"extractor"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig configures the optional Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATRIX")
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
	v.SetDefault("site.url", DefaultSiteURL)
	v.SetDefault("http.user_agent", "amneziawg-openwrt-matrix/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 64*1024*1024)
	v.SetDefault("fetch.max_parallel", 0)
	v.SetDefault("filters.release.targets", []string{"ath79"})
	v.SetDefault("filters.release.subtargets", []string{"generic", "nand"})
	v.SetDefault("filters.snapshot.targets", []string{"ath79"})
	v.SetDefault("filters.snapshot.subtargets", []string{"generic", "nand"})
	v.SetDefault("details.extractor", "regex")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "target_matrix")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.URL == "" {
		return fmt.Errorf("site.url must be set")
	}
	u, err := url.Parse(c.Site.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute URL, got %q", c.Site.URL)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Fetch.MaxParallel < 0 {
		return fmt.Errorf("fetch.max_parallel must be >= 0")
	}
	switch c.Details.Extractor {
	case "regex", "html":
	default:
		return fmt.Errorf("details.extractor must be one of regex, html; got %q", c.Details.Extractor)
	}
	if c.Metrics.PushgatewayURL != "" && c.Metrics.Job == "" {
		return fmt.Errorf("metrics.job must be set when metrics.pushgateway_url is set")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FiltersFor returns the allow-lists that apply to v.
func (c Config) FiltersFor(v release.Version) FilterConfig {
	if v.IsSnapshot() {
		return c.Filters.Snapshot
	}
	return c.Filters.Release
}
