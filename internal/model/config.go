package model

import (
	"fmt"
	"strings"
	"time"
)

// Provider names a telecom operator whose incidents are analyzed
type Provider string

const (
	ProviderBell   Provider = "BELL"
	ProviderRogers Provider = "ROGERS"
	ProviderTelus  Provider = "TELUS"
)

// ParseProvider normalizes a provider name
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(name)))
	if p == "" {
		return "", fmt.Errorf("empty provider name")
	}
	return p, nil
}

// Slug returns the lowercase form used in URLs and file names
func (p Provider) Slug() string {
	return strings.ToLower(string(p))
}

// Config is the complete outagelens configuration
type Config struct {
	Seed         int64             `yaml:"seed" mapstructure:"seed"`
	Providers    []ProviderConfig  `yaml:"providers" mapstructure:"providers"`
	Cluster      ClusterConfig     `yaml:"cluster" mapstructure:"cluster"`
	Features     FeaturesConfig    `yaml:"features" mapstructure:"features"`
	Balance      BalanceConfig     `yaml:"balance" mapstructure:"balance"`
	Classifier   ClassifierConfig  `yaml:"classifier" mapstructure:"classifier"`
	Split        SplitConfig       `yaml:"split" mapstructure:"split"`
	Score        ScoreConfig       `yaml:"score" mapstructure:"score"`
	Match        MatchConfig       `yaml:"match" mapstructure:"match"`
	Scrape       ScrapeConfig      `yaml:"scrape" mapstructure:"scrape"`
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	LLM          LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Store        StoreConfig       `yaml:"store" mapstructure:"store"`
	Metrics      MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Logging      LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Notify       NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Schedule     ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Output       OutputConfig      `yaml:"output" mapstructure:"output"`
}

// ProviderConfig describes the inputs for one provider
type ProviderConfig struct {
	Name        Provider `yaml:"name" mapstructure:"name"`
	TrainingCSV string   `yaml:"training_csv" mapstructure:"training_csv"` // Labeled incident log
	FeedXML     string   `yaml:"feed_xml" mapstructure:"feed_xml"`         // Official status feed
	ForumURL    string   `yaml:"forum_url" mapstructure:"forum_url"`       // Community forum thread listing
	TrackerURL  string   `yaml:"tracker_url" mapstructure:"tracker_url"`   // Outage tracker page
	StatusURL   string   `yaml:"status_url" mapstructure:"status_url"`     // Service status page
	AlertCount  int      `yaml:"alert_count" mapstructure:"alert_count"`   // Tracker report count that triggers an alert
}

// ClusterConfig configures temporal clustering
type ClusterConfig struct {
	EpsSeconds int64 `yaml:"eps_seconds" mapstructure:"eps_seconds"`
	MinPoints  int   `yaml:"min_points" mapstructure:"min_points"`
}

// FeaturesConfig configures feature engineering
type FeaturesConfig struct {
	RatioNorm         string  `yaml:"ratio_norm" mapstructure:"ratio_norm"` // sigmoid or minmax
	WindowSeconds     int64   `yaml:"window_seconds" mapstructure:"window_seconds"`
	DefaultGapSeconds float64 `yaml:"default_gap_seconds" mapstructure:"default_gap_seconds"`
}

// BalanceConfig configures SMOTE oversampling
type BalanceConfig struct {
	Enabled   bool `yaml:"enabled" mapstructure:"enabled"`
	Neighbors int  `yaml:"neighbors" mapstructure:"neighbors"`
}

// ClassifierConfig configures the random forest and optional feature elimination
type ClassifierConfig struct {
	Trees          int  `yaml:"trees" mapstructure:"trees"`
	MaxDepth       int  `yaml:"max_depth" mapstructure:"max_depth"` // 0 = unlimited
	MinSamplesLeaf int  `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	RFE            bool `yaml:"rfe" mapstructure:"rfe"`
	RFEFolds       int  `yaml:"rfe_folds" mapstructure:"rfe_folds"`
	MinFeatures    int  `yaml:"min_features" mapstructure:"min_features"`
}

// SplitConfig configures the train/test split
type SplitConfig struct {
	TestSize float64 `yaml:"test_size" mapstructure:"test_size"`
}

// ScoreConfig configures the score combiner
type ScoreConfig struct {
	Alpha            float64 `yaml:"alpha" mapstructure:"alpha"`
	MinSeverityRatio float64 `yaml:"min_severity_ratio" mapstructure:"min_severity_ratio"` // 0 disables the filter
}

// MatchConfig configures the cross-source date matcher
type MatchConfig struct {
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// Location resolves the configured matcher timezone
func (m MatchConfig) Location() (*time.Location, error) {
	if m.Timezone == "" || strings.EqualFold(m.Timezone, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(m.Timezone)
}

// ScrapeConfig configures evidence collection
type ScrapeConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	ThreadBodies bool `yaml:"thread_bodies" mapstructure:"thread_bodies"` // Extract article text from every kept thread
}

// HTTPConfig configures scraping HTTP clients
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS  bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig configures the scraped page cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig configures worker counts
type ConcurrencyConfig struct {
	Providers int `yaml:"providers" mapstructure:"providers"` // Provider pipelines in parallel
	Threads   int `yaml:"threads" mapstructure:"threads"`     // Forum thread pages fetched in parallel
}

// RateLimitConfig configures per-domain politeness
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// LLMConfig configures the optional summarizer
type LLMConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // "" disables, "openai"
	Model          string `yaml:"model" mapstructure:"model"`
	APIKey         string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout        int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens      int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	StrictEvidence bool   `yaml:"strict_evidence" mapstructure:"strict_evidence"` // Reject summaries citing URLs outside the evidence
}

// StoreConfig configures the SQLite model registry
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// NotifyConfig configures Telegram alerts
type NotifyConfig struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	Token          string  `yaml:"token,omitempty" mapstructure:"token"`
	ChatID         int64   `yaml:"chat_id" mapstructure:"chat_id"`
	ScoreThreshold float64 `yaml:"score_threshold" mapstructure:"score_threshold"`
}

// ScheduleConfig configures watch mode
type ScheduleConfig struct {
	Cron     string `yaml:"cron" mapstructure:"cron"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// OutputConfig configures report rendering
type OutputConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Verbose       bool   `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool   `yaml:"include_footer" mapstructure:"include_footer"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Seed: 42,
		Providers: []ProviderConfig{
			{
				Name:        ProviderBell,
				TrainingCSV: "data/bell/incidents.csv",
				FeedXML:     "data/bell/feed.xml",
				ForumURL:    "https://forum.bell.ca/t5/Bell-Community-Forum/ct-p/bell_en",
				TrackerURL:  "https://outage.report/ca/bell",
				StatusURL:   "https://istheservicedowncanada.com/",
				AlertCount:  300,
			},
			{
				Name:        ProviderRogers,
				TrainingCSV: "data/rogers/incidents.csv",
				FeedXML:     "data/rogers/feed.xml",
				ForumURL:    "https://communityforums.rogers.com/t5/forums/recentpostspage/post-type/thread/page/1",
				TrackerURL:  "https://outage.report/ca/rogers",
				StatusURL:   "https://istheservicedowncanada.com/",
				AlertCount:  350,
			},
			{
				Name:        ProviderTelus,
				TrainingCSV: "data/telus/incidents.csv",
				FeedXML:     "data/telus/feed.xml",
				ForumURL:    "https://forum.telus.com/t5/Home/ct-p/EN",
				TrackerURL:  "https://outage.report/ca/telus",
				StatusURL:   "https://istheservicedowncanada.com/",
				AlertCount:  50,
			},
		},
		Cluster: ClusterConfig{
			EpsSeconds: 3600,
			MinPoints:  3,
		},
		Features: FeaturesConfig{
			RatioNorm:         "minmax",
			WindowSeconds:     3600,
			DefaultGapSeconds: 3600,
		},
		Balance: BalanceConfig{
			Enabled:   true,
			Neighbors: 5,
		},
		Classifier: ClassifierConfig{
			Trees:          300,
			MaxDepth:       0,
			MinSamplesLeaf: 1,
			RFE:            false,
			RFEFolds:       3,
			MinFeatures:    5,
		},
		Split: SplitConfig{
			TestSize: 0.2,
		},
		Score: ScoreConfig{
			Alpha:            0.5,
			MinSeverityRatio: 1.0,
		},
		Match: MatchConfig{
			Timezone: "UTC",
		},
		Scrape: ScrapeConfig{
			Enabled: true,
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "outagelens/0.1 (+https://github.com/ppiankov/outagelens)",
			MaxBodyBytes: 5_000_000,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".outagelens/cache",
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   6 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			Providers: 3,
			Threads:   4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             2,
			RespectRobots:     true,
		},
		LLM: LLMConfig{
			Provider:       "",
			Model:          "gpt-4o-mini",
			Timeout:        30,
			MaxTokens:      800,
			StrictEvidence: true,
		},
		Store: StoreConfig{
			Path: ".outagelens/outagelens.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Notify: NotifyConfig{
			Enabled:        false,
			ScoreThreshold: 0.8,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 */15 * * * *",
			Timezone: "UTC",
		},
		Output: OutputConfig{
			Dir:           "reports",
			IncludeFooter: true,
		},
	}
}

// ProviderByName returns the configuration for a provider
func (c *Config) ProviderByName(p Provider) (ProviderConfig, bool) {
	for _, pc := range c.Providers {
		if pc.Name == p {
			return pc, true
		}
	}
	return ProviderConfig{}, false
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Cluster.EpsSeconds <= 0 {
		return fmt.Errorf("cluster.eps_seconds must be positive")
	}
	if c.Cluster.MinPoints < 1 {
		return fmt.Errorf("cluster.min_points must be at least 1")
	}
	switch c.Features.RatioNorm {
	case "sigmoid", "minmax":
	default:
		return fmt.Errorf("features.ratio_norm must be sigmoid or minmax, got %q", c.Features.RatioNorm)
	}
	if c.Split.TestSize <= 0 || c.Split.TestSize >= 1 {
		return fmt.Errorf("split.test_size must be in (0, 1)")
	}
	if c.Score.Alpha < 0 || c.Score.Alpha > 1 {
		return fmt.Errorf("score.alpha must be in [0, 1]")
	}
	if c.Classifier.Trees < 1 {
		return fmt.Errorf("classifier.trees must be at least 1")
	}
	seen := make(map[Provider]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider: %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
