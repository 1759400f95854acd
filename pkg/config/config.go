package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for productsync
type Config struct {
	// Remote table store
	Bitable BitableConfig `yaml:"bitable" json:"bitable"`

	// Batch pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Browser automation settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Local image/artifact download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Retry configuration for image downloads
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BitableConfig holds the table API identity and addressing
type BitableConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	AppID     string        `yaml:"app_id" json:"app_id"`
	AppSecret string        `yaml:"app_secret" json:"app_secret"`
	AppToken  string        `yaml:"app_token" json:"app_token"`
	TableID   string        `yaml:"table_id" json:"table_id"`
	ViewID    string        `yaml:"view_id" json:"view_id"`
	PageSize  int           `yaml:"page_size" json:"page_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// Configured reports whether enough identifiers are present to sync into a table
func (b BitableConfig) Configured() bool {
	return b.AppID != "" && b.AppSecret != "" && b.AppToken != "" && b.TableID != ""
}

// PipelineConfig holds batch pipeline settings and the target field names
type PipelineConfig struct {
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	PacingInterval   time.Duration `yaml:"pacing_interval" json:"pacing_interval"`
	ProductIDField   string        `yaml:"product_id_field" json:"product_id_field"`
	DescriptionField string        `yaml:"description_field" json:"description_field"`
	ImagesField      string        `yaml:"images_field" json:"images_field"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	Headless           bool          `yaml:"headless" json:"headless"`
	UserDataDir        string        `yaml:"user_data_dir" json:"user_data_dir"`
	ProfileName        string        `yaml:"profile_name" json:"profile_name"`
	Channel            string        `yaml:"channel" json:"channel"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
	ProductURLTemplate string        `yaml:"product_url_template" json:"product_url_template"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	SettleDelay        time.Duration `yaml:"settle_delay" json:"settle_delay"`
	SecurityCheckWait  time.Duration `yaml:"security_check_wait" json:"security_check_wait"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Folder            string        `yaml:"folder" json:"folder"`
	Concurrent        int           `yaml:"concurrent" json:"concurrent"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bitable: BitableConfig{
			BaseURL:  "https://open.feishu.cn/open-apis",
			PageSize: 100,
			Timeout:  30 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:        10,
			PacingInterval:   3 * time.Second,
			ProductIDField:   "product_id",
			DescriptionField: "product_desc",
			ImagesField:      "product_source_imgs",
		},
		Browser: BrowserConfig{
			Headless:           true,
			ProfileName:        "Default",
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ProductURLTemplate: "https://www.tiktok.com/shop/pdp/product/{id}",
			NavigationTimeout:  30 * time.Second,
			SettleDelay:        5 * time.Second,
			SecurityCheckWait:  30 * time.Second,
		},
		Download: DownloadConfig{
			Enabled:           false,
			Folder:            "downloaded_images",
			Concurrent:        3,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*target = n
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*target = d
		}
	}
	setBool := func(key string, target *bool) {
		if v := os.Getenv(key); v != "" {
			*target = strings.ToLower(v) == "true" || v == "1"
		}
	}

	// Table store
	setString("PRODUCTSYNC_BASE_URL", &c.Bitable.BaseURL)
	setString("PRODUCTSYNC_APP_ID", &c.Bitable.AppID)
	setString("PRODUCTSYNC_APP_SECRET", &c.Bitable.AppSecret)
	setString("PRODUCTSYNC_APP_TOKEN", &c.Bitable.AppToken)
	setString("PRODUCTSYNC_TABLE_ID", &c.Bitable.TableID)
	setString("PRODUCTSYNC_VIEW_ID", &c.Bitable.ViewID)

	// Pipeline
	setInt("PRODUCTSYNC_BATCH_SIZE", &c.Pipeline.BatchSize)
	setDuration("PRODUCTSYNC_PACING_INTERVAL", &c.Pipeline.PacingInterval)

	// Browser
	setBool("PRODUCTSYNC_HEADLESS", &c.Browser.Headless)
	setString("PRODUCTSYNC_USER_DATA_DIR", &c.Browser.UserDataDir)
	setString("PRODUCTSYNC_PROFILE_NAME", &c.Browser.ProfileName)

	// Downloads
	setBool("PRODUCTSYNC_DOWNLOAD_IMAGES", &c.Download.Enabled)
	setString("PRODUCTSYNC_DOWNLOAD_FOLDER", &c.Download.Folder)

	// Logging level
	setString("PRODUCTSYNC_LOG_LEVEL", &c.Logging.Level)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".productsync.yaml",
		".productsync.yml",
		filepath.Join(home, ".config", "productsync", "config.yaml"),
		filepath.Join(home, ".config", "productsync", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid.
// Table identifiers are optional here: without them the pipeline runs unsynced.
func (c *Config) Validate() error {
	var errs []error

	if c.Bitable.BaseURL == "" {
		errs = append(errs, errors.New("bitable base URL is required"))
	}
	if c.Bitable.PageSize <= 0 || c.Bitable.PageSize > 500 {
		errs = append(errs, errors.New("bitable page size must be between 1 and 500"))
	}
	if c.Bitable.Timeout <= 0 {
		errs = append(errs, errors.New("bitable timeout must be positive"))
	}

	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Pipeline.PacingInterval <= 0 {
		errs = append(errs, errors.New("pacing interval must be positive"))
	}
	if c.Pipeline.ProductIDField == "" || c.Pipeline.DescriptionField == "" || c.Pipeline.ImagesField == "" {
		errs = append(errs, errors.New("pipeline field names are required"))
	}

	if !strings.Contains(c.Browser.ProductURLTemplate, "{id}") {
		errs = append(errs, errors.New("product URL template must contain {id}"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}

	if c.Download.Concurrent <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.Concurrent > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.Enabled && c.Download.Folder == "" {
		errs = append(errs, errors.New("download folder is required when downloads are enabled"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateBitable checks that the table identifiers needed for sync are present
func (c *Config) ValidateBitable() error {
	var errs []error
	if c.Bitable.AppID == "" {
		errs = append(errs, errors.New("bitable app_id is required"))
	}
	if c.Bitable.AppSecret == "" {
		errs = append(errs, errors.New("bitable app_secret is required"))
	}
	if c.Bitable.AppToken == "" {
		errs = append(errs, errors.New("bitable app_token is required"))
	}
	if c.Bitable.TableID == "" {
		errs = append(errs, errors.New("bitable table_id is required"))
	}
	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["app-token"].(string); ok && v != "" {
		c.Bitable.AppToken = v
	}
	if v, ok := flags["table-id"].(string); ok && v != "" {
		c.Bitable.TableID = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Pipeline.BatchSize = v
	}
	if v, ok := flags["pacing"].(time.Duration); ok && v > 0 {
		c.Pipeline.PacingInterval = v
	}
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["download"].(bool); ok {
		c.Download.Enabled = v
	}
	if v, ok := flags["download-folder"].(string); ok && v != "" {
		c.Download.Folder = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".productsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
