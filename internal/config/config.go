// Package config loads settings from defaults, an optional YAML file and
// the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath   = "configs/linkpost.yaml"
	DefaultBaseOrigin   = "https://orevideo.pythonanywhere.com"
	DefaultAffiliateURL = "https://www.effectivegatecpm.com/ra1dctjqd?key=7386f2c3cdf8ea912bbf6b2ab000fd44"
)

type Config struct {
	// Listing scrape
	BaseOrigin       string        `yaml:"base_origin"`
	NumPages         int           `yaml:"num_pages"`
	RawLimit         int           `yaml:"raw_limit"`
	PriorityMaxPage  int           `yaml:"priority_max_page"`
	PageDelay        time.Duration `yaml:"page_delay"`
	PageTimeout      time.Duration `yaml:"page_timeout"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	MaxPrimaryChecks int           `yaml:"max_gofile_checks"`
	PrimaryTarget    int           `yaml:"gofile_target"`
	ScrapeTimeout    time.Duration `yaml:"scrape_timeout"` // 0 = no deadline

	// Post policy
	WantPost     int           `yaml:"want_post"`
	MinPost      int           `yaml:"min_post"`
	DailyLimit   int           `yaml:"daily_limit"`
	HardLimit    time.Duration `yaml:"hard_limit"`
	TweetLimit   int           `yaml:"tweet_limit"`
	AffiliateURL string        `yaml:"affiliate_url"`
	Timezone     string        `yaml:"timezone"`

	// State
	StateFilePath    string        `yaml:"state_file"`
	RecentWindow     time.Duration `yaml:"recent_window"`
	DatabaseURL      string        `yaml:"-"`
	HistoryDB        string        `yaml:"history_db"`
	HistoryRetention time.Duration `yaml:"history_retention"`

	// X
	XAPIKey       string `yaml:"-"`
	XAPISecret    string `yaml:"-"`
	XAccessToken  string `yaml:"-"`
	XAccessSecret string `yaml:"-"`
	XBaseURL      string `yaml:"x_base_url"`
	CommunityID   string `yaml:"community_id"`

	// Timeline scan
	UseTimeline     bool   `yaml:"use_timeline"`
	ScreenName      string `yaml:"screen_name"`
	TimelineScrolls int    `yaml:"timeline_scrolls"`

	// Google Sheets
	SheetCredentialsJSON string `yaml:"-"`
	SheetURL             string `yaml:"sheet_url"`
	SheetName            string `yaml:"sheet_name"`

	// App settings
	Debug            bool          `yaml:"debug"`
	LogFormat        string        `yaml:"log_format"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	Schedule         string        `yaml:"schedule"`
	EnableMonitoring bool          `yaml:"enable_monitoring"`
	MonitoringPort   string        `yaml:"monitoring_port"`
}

func Default() *Config {
	return &Config{
		BaseOrigin:       DefaultBaseOrigin,
		NumPages:         50,
		RawLimit:         200,
		PriorityMaxPage:  10,
		PageDelay:        300 * time.Millisecond,
		PageTimeout:      20 * time.Second,
		CheckTimeout:     15 * time.Second,
		MaxPrimaryChecks: 15,
		PrimaryTarget:    3,

		WantPost:     5,
		MinPost:      3,
		DailyLimit:   16,
		HardLimit:    600 * time.Second,
		TweetLimit:   280,
		AffiliateURL: DefaultAffiliateURL,
		Timezone:     "Asia/Tokyo",

		StateFilePath: "state.json",
		RecentWindow:  12 * time.Hour,

		TimelineScrolls: 1,

		LogFormat:      "text",
		RetryAttempts:  2,
		RetryDelay:     5 * time.Second,
		Schedule:       "0 * * * *",
		MonitoringPort: "8080",
	}
}

// Load reads LINKPOST_CONFIG (or the default path when present), then the
// environment, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnvOrDefault("LINKPOST_CONFIG", DefaultConfigPath)
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	return cfg, cfg.Validate()
}

// loadFile overlays a YAML file. A missing file is not an error.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BaseOrigin = getEnvOrDefault("OREVIDEO_BASE", c.BaseOrigin)
	c.NumPages = getEnvIntOrDefault("NUM_PAGES", c.NumPages)
	c.RawLimit = getEnvIntOrDefault("RAW_LIMIT", c.RawLimit)
	c.PriorityMaxPage = getEnvIntOrDefault("GOFILE_PRIORITY_MAX_PAGE", c.PriorityMaxPage)
	c.PageDelay = getEnvDurationOrDefault("PAGE_DELAY_MS", time.Millisecond, c.PageDelay)
	c.PageTimeout = getEnvDurationOrDefault("PAGE_TIMEOUT_SEC", time.Second, c.PageTimeout)
	c.CheckTimeout = getEnvDurationOrDefault("CHECK_TIMEOUT_SEC", time.Second, c.CheckTimeout)
	c.CheckInterval = getEnvDurationOrDefault("CHECK_INTERVAL_MS", time.Millisecond, c.CheckInterval)
	c.MaxPrimaryChecks = getEnvIntOrDefault("MAX_GOFILE_CHECK", c.MaxPrimaryChecks)
	c.PrimaryTarget = getEnvIntOrDefault("GOFILE_TARGET", c.PrimaryTarget)
	c.ScrapeTimeout = getEnvDurationOrDefault("SCRAPE_TIMEOUT_SEC", time.Second, c.ScrapeTimeout)

	c.WantPost = getEnvIntOrDefault("WANT_POST", c.WantPost)
	c.MinPost = getEnvIntOrDefault("MIN_POST", c.MinPost)
	c.DailyLimit = getEnvIntOrDefault("DAILY_LIMIT", c.DailyLimit)
	c.HardLimit = getEnvDurationOrDefault("HARD_LIMIT_SEC", time.Second, c.HardLimit)
	c.TweetLimit = getEnvIntOrDefault("TWEET_LIMIT", c.TweetLimit)
	c.AffiliateURL = getEnvOrDefault("AFFILIATE_URL", c.AffiliateURL)
	c.Timezone = getEnvOrDefault("BOT_TIMEZONE", c.Timezone)

	c.StateFilePath = getEnvOrDefault("STATE_FILE", c.StateFilePath)
	c.RecentWindow = getEnvDurationOrDefault("RECENT_WINDOW_HOURS", time.Hour, c.RecentWindow)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.HistoryDB = getEnvOrDefault("HISTORY_DB", c.HistoryDB)
	c.HistoryRetention = getEnvDurationOrDefault("HISTORY_RETENTION_HOURS", time.Hour, c.HistoryRetention)

	c.XAPIKey = getEnvOrDefault("X_API_KEY", c.XAPIKey)
	c.XAPISecret = getEnvOrDefault("X_API_SECRET", c.XAPISecret)
	c.XAccessToken = getEnvOrDefault("X_ACCESS_TOKEN", c.XAccessToken)
	c.XAccessSecret = getEnvOrDefault("X_ACCESS_TOKEN_SECRET", c.XAccessSecret)
	c.XBaseURL = getEnvOrDefault("X_API_BASE", c.XBaseURL)
	c.CommunityID = strings.TrimSpace(getEnvOrDefault("X_COMMUNITY_ID", c.CommunityID))

	c.UseTimeline = getEnvBoolOrDefault("USE_API_TIMELINE", c.UseTimeline)
	c.ScreenName = getEnvOrDefault("X_SCREEN_NAME", c.ScreenName)
	c.TimelineScrolls = getEnvIntOrDefault("TIMELINE_SCROLLS", c.TimelineScrolls)

	c.SheetCredentialsJSON = getEnvOrDefault("GSPREAD_SERVICE_ACCOUNT_JSON", c.SheetCredentialsJSON)
	c.SheetURL = getEnvOrDefault("OREVIDEO_SHEET_URL", c.SheetURL)
	c.SheetName = getEnvOrDefault("OREVIDEO_SHEET_NAME", c.SheetName)

	c.Debug = getEnvBoolOrDefault("DEBUG", c.Debug)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY_SEC", time.Second, c.RetryDelay)
	c.Schedule = getEnvOrDefault("SCHEDULE", c.Schedule)
	c.EnableMonitoring = getEnvBoolOrDefault("ENABLE_HTTP_MONITORING", c.EnableMonitoring)
	c.MonitoringPort = getEnvOrDefault("MONITORING_PORT", c.MonitoringPort)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault reads an integer count of unit.
func getEnvDurationOrDefault(key string, unit, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return time.Duration(n) * unit
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.BaseOrigin == "" {
		return fmt.Errorf("OREVIDEO_BASE is required")
	}
	if c.NumPages < 1 {
		return fmt.Errorf("NUM_PAGES must be at least 1")
	}
	if c.RawLimit < 1 {
		return fmt.Errorf("RAW_LIMIT must be at least 1")
	}
	if c.PriorityMaxPage < 1 {
		return fmt.Errorf("GOFILE_PRIORITY_MAX_PAGE must be at least 1")
	}
	if c.MaxPrimaryChecks < 0 || c.PrimaryTarget < 0 {
		return fmt.Errorf("MAX_GOFILE_CHECK and GOFILE_TARGET must not be negative")
	}
	if c.WantPost < 1 {
		return fmt.Errorf("WANT_POST must be at least 1")
	}
	if c.MinPost < 0 || c.MinPost > c.WantPost {
		return fmt.Errorf("MIN_POST must be between 0 and WANT_POST (%d)", c.WantPost)
	}
	if c.DailyLimit < 1 {
		return fmt.Errorf("DAILY_LIMIT must be at least 1")
	}
	if c.TweetLimit < 1 {
		return fmt.Errorf("TWEET_LIMIT must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("BOT_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// ValidatePosting checks what a publishing run needs on top of Validate.
func (c *Config) ValidatePosting() error {
	var missing []string
	for key, v := range map[string]string{
		"X_API_KEY":             c.XAPIKey,
		"X_API_SECRET":          c.XAPISecret,
		"X_ACCESS_TOKEN":        c.XAccessToken,
		"X_ACCESS_TOKEN_SECRET": c.XAccessSecret,
	} {
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s required for posting", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the bot's timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SheetsEnabled reports whether the spreadsheet source is configured.
func (c *Config) SheetsEnabled() bool {
	return c.SheetCredentialsJSON != "" && c.SheetURL != ""
}
