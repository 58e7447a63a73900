// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Portal  PortalConfig  `mapstructure:"portal" yaml:"portal"`
	Crawl   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// PortalConfig pins the structural contract of the results portal: the
// navigation path, the element selectors and the bounded waits. Any change
// to these on the remote site is an external fault, not a code bug.
type PortalConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	ResultsURL string `mapstructure:"results_url" yaml:"results_url"`

	// MenuToggleXPath locates the landing-page hamburger button. Clicking it
	// is expansion-idempotent; a failed click here is never fatal.
	MenuToggleXPath  string `mapstructure:"menu_toggle_xpath" yaml:"menu_toggle_xpath"`
	DistrictSelector string `mapstructure:"district_selector" yaml:"district_selector"`
	PostSelector     string `mapstructure:"post_selector" yaml:"post_selector"`
	SubmitSelector   string `mapstructure:"submit_selector" yaml:"submit_selector"`
	TableSelector    string `mapstructure:"table_selector" yaml:"table_selector"`

	// SettleTimeout bounds the condition-polls that replace fixed sleeps:
	// "dropdown enabled with at least one real option", "table visible".
	SettleTimeout   time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	TableTimeout    time.Duration `mapstructure:"table_timeout" yaml:"table_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CrawlConfig centralizes the runtime settings for a single crawl run.
type CrawlConfig struct {
	// Schema selects the record variant: "minimal" or "extended".
	Schema string `mapstructure:"schema" yaml:"schema"`
	// RefreshPosts re-reads the post dropdown after every district
	// selection instead of trusting a single early read.
	RefreshPosts bool   `mapstructure:"refresh_posts" yaml:"refresh_posts"`
	OutputFile   string `mapstructure:"output_file" yaml:"output_file"`
	DownloadDir  string `mapstructure:"download_dir" yaml:"download_dir"`
}

// SetDefaults registers the default configuration values on the given viper
// instance. Called before the config file and environment are read, so that
// file/env/flag values override these with the usual precedence.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "seccrawl")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)

	v.SetDefault("portal.base_url", "https://sec.bihar.gov.in/")
	v.SetDefault("portal.results_url", "http://sec2021.bihar.gov.in/SEC_NP_P4_01/Admin/winningCandidatesPost_wise.aspx")
	v.SetDefault("portal.menu_toggle_xpath", `//button[span[contains(@class, "fa fa-bars")]]`)
	v.SetDefault("portal.district_selector", "select#ddlDistrict")
	v.SetDefault("portal.post_selector", "select#ddlPosts")
	v.SetDefault("portal.submit_selector", "button.btnshow")
	v.SetDefault("portal.table_selector", "table.table-bordered")
	v.SetDefault("portal.settle_timeout", 10*time.Second)
	v.SetDefault("portal.table_timeout", 10*time.Second)
	v.SetDefault("portal.download_timeout", 10*time.Second)
	v.SetDefault("portal.poll_interval", 250*time.Millisecond)

	v.SetDefault("crawl.schema", "minimal")
	v.SetDefault("crawl.refresh_posts", true)
	v.SetDefault("crawl.output_file", "bihar_election_data.csv")
	v.SetDefault("crawl.download_dir", "downloads")
}

// Load unmarshals the fully merged viper state into a typed Config and
// validates the parts the crawl cannot run without.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would make the run undefined.
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" || c.Portal.ResultsURL == "" {
		return fmt.Errorf("portal.base_url and portal.results_url must be set")
	}
	switch c.Crawl.Schema {
	case "minimal", "extended":
	default:
		return fmt.Errorf("crawl.schema must be %q or %q, got %q", "minimal", "extended", c.Crawl.Schema)
	}
	if c.Crawl.OutputFile == "" {
		return fmt.Errorf("crawl.output_file must be set")
	}
	return nil
}
