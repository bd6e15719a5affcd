package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Account   AccountConfig   `mapstructure:"account"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // SQLite file path
}

// AccountConfig identifies the managed account and its posting policy
// defaults. The per-account settings row is seeded from these on first
// run; after that the database wins.
type AccountConfig struct {
	Username                string `mapstructure:"username"`
	PostingInterval         int    `mapstructure:"posting_interval"`          // minutes
	RandomIntervalVariance  int    `mapstructure:"random_interval_variance"`  // minutes
	RejectedContentLifespan int    `mapstructure:"rejected_content_lifespan"` // minutes
	PostedContentLifespan   int    `mapstructure:"posted_content_lifespan"`   // minutes
	TimezoneOffset          int    `mapstructure:"timezone_offset"`           // hours from UTC
	PageSize                int    `mapstructure:"page_size"`
}

// PublisherConfig holds graph API settings
type PublisherConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccountID   string `mapstructure:"account_id"`
	AccessToken string `mapstructure:"access_token"`
}

// AnthropicConfig holds Claude API settings
type AnthropicConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// SchedulerConfig holds the background job cadence
type SchedulerConfig struct {
	PollCron  string `mapstructure:"poll_cron"`  // publish loop
	SweepCron string `mapstructure:"sweep_cron"` // retention sweep
}

// DedupConfig holds duplicate detection settings
type DedupConfig struct {
	FFmpegPath        string `mapstructure:"ffmpeg_path"`
	FFprobePath       string `mapstructure:"ffprobe_path"`
	DistanceThreshold int    `mapstructure:"distance_threshold"`
}

// BlobConfig holds S3-compatible media storage settings
type BlobConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	URLTTLHours     int    `mapstructure:"url_ttl_hours"`
}

// TrackerConfig holds Google Sheets tracker settings
type TrackerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in current directory and configs folder
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		// Also check user's home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".repost-agent"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("REPOST")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("database.dsn", "REPOST_DATABASE_DSN")
	v.BindEnv("account.username", "REPOST_ACCOUNT_USERNAME")
	v.BindEnv("publisher.account_id", "REPOST_PUBLISHER_ACCOUNT_ID")
	v.BindEnv("publisher.access_token", "REPOST_PUBLISHER_ACCESS_TOKEN")
	v.BindEnv("anthropic.api_key", "REPOST_ANTHROPIC_API_KEY")
	v.BindEnv("blob.enabled", "REPOST_BLOB_ENABLED")
	v.BindEnv("blob.endpoint", "REPOST_BLOB_ENDPOINT")
	v.BindEnv("blob.bucket", "REPOST_BLOB_BUCKET")
	v.BindEnv("blob.access_key_id", "REPOST_BLOB_ACCESS_KEY_ID")
	v.BindEnv("blob.secret_access_key", "REPOST_BLOB_SECRET_ACCESS_KEY")
	v.BindEnv("tracker.enabled", "REPOST_TRACKER_ENABLED")
	v.BindEnv("tracker.spreadsheet_id", "REPOST_TRACKER_SPREADSHEET_ID")
	v.BindEnv("tracker.credentials_file", "REPOST_TRACKER_CREDENTIALS_FILE")
	v.BindEnv("tracker.service_account_json", "REPOST_TRACKER_SERVICE_ACCOUNT_JSON")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.dsn", "./data/repost.db")

	// Account defaults
	v.SetDefault("account.posting_interval", 150)
	v.SetDefault("account.random_interval_variance", 30)
	v.SetDefault("account.rejected_content_lifespan", 180)
	v.SetDefault("account.posted_content_lifespan", 180)
	v.SetDefault("account.timezone_offset", 2)
	v.SetDefault("account.page_size", 8)

	// Anthropic defaults
	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.7)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_cron", "@every 30s")
	v.SetDefault("scheduler.sweep_cron", "@every 5m")

	// Dedup defaults
	v.SetDefault("dedup.ffmpeg_path", "ffmpeg")
	v.SetDefault("dedup.ffprobe_path", "ffprobe")
	v.SetDefault("dedup.distance_threshold", 3)

	// Blob defaults
	v.SetDefault("blob.enabled", false)
	v.SetDefault("blob.region", "auto")
	v.SetDefault("blob.url_ttl_hours", 168)

	// Tracker defaults
	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.sheet_name", "Outcomes")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Account.Username == "" {
		return fmt.Errorf("account.username is required")
	}
	if c.Publisher.AccountID == "" {
		return fmt.Errorf("publisher.account_id is required")
	}
	if c.Publisher.AccessToken == "" {
		return fmt.Errorf("publisher.access_token is required")
	}
	if c.Anthropic.Enabled && c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required when anthropic.enabled")
	}
	return nil
}
