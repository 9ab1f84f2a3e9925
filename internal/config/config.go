package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConsumerKey is the application key the exporter was registered with.
	DefaultConsumerKey = "114692-452aa92a814fd6b440742ce"
	// MaxPageSize is the list endpoint's hard per-page cap.
	MaxPageSize = 30
)

const (
	FormatJSON     = "json"
	FormatMarkdown = "md"
	FormatPostgres = "postgres"
)

type Config struct {
	Pocket   PocketConfig   `yaml:"pocket"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Extract  ExtractConfig  `yaml:"extract"`
	Output   OutputConfig   `yaml:"output"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	LogLevel string         `yaml:"log_level"`
}

type PocketConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ConsumerKey string        `yaml:"consumer_key"`
	RedirectURI string        `yaml:"redirect_uri"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
	State       string        `yaml:"state"`
	DetailType  string        `yaml:"detail_type"`
	Sort        string        `yaml:"sort"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type AuthConfig struct {
	TokenPath string `yaml:"token_path"`
}

type SyncConfig struct {
	CheckpointPath string `yaml:"checkpoint_path"`
	Limit          int    `yaml:"limit"`
}

type ExtractConfig struct {
	Reducer           string        `yaml:"reducer"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	UserAgent         string        `yaml:"user_agent"`
	// BatchSize is the number of extracted items written to the output at once.
	BatchSize int `yaml:"batch_size"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	Dir    string `yaml:"dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// Enabled reports whether archived records should be published.
func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

// Load reads the YAML config at path. A missing file yields the defaults so
// the exporter runs without any configuration.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case FormatJSON, FormatMarkdown, FormatPostgres:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	switch c.Extract.Reducer {
	case "readability", "selector":
	default:
		return fmt.Errorf("unknown reducer %q", c.Extract.Reducer)
	}
	if c.Sync.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", c.Sync.Limit)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Pocket.BaseURL == "" {
		c.Pocket.BaseURL = "https://getpocket.com"
	}
	if c.Pocket.ConsumerKey == "" {
		c.Pocket.ConsumerKey = envOr("POCKET_CONSUMER_KEY", DefaultConsumerKey)
	}
	if c.Pocket.RedirectURI == "" {
		c.Pocket.RedirectURI = envOr("POCKET_REDIRECT_URI", "http://127.0.0.1:51337/finish")
	}
	if c.Pocket.PageSize <= 0 || c.Pocket.PageSize > MaxPageSize {
		c.Pocket.PageSize = MaxPageSize
	}
	if c.Pocket.Timeout == 0 {
		c.Pocket.Timeout = 90 * time.Second
	}
	if c.Pocket.State == "" {
		c.Pocket.State = "all"
	}
	if c.Pocket.DetailType == "" {
		c.Pocket.DetailType = "complete"
	}
	if c.Pocket.Sort == "" {
		c.Pocket.Sort = "oldest"
	}
	if c.Pocket.Retry.MaxRetries == 0 {
		c.Pocket.Retry.MaxRetries = 5
	}
	if c.Pocket.Retry.InitialBackoff == 0 {
		c.Pocket.Retry.InitialBackoff = 1500 * time.Millisecond
	}
	if c.Pocket.Retry.MaxBackoff == 0 {
		c.Pocket.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Auth.TokenPath == "" {
		c.Auth.TokenPath = defaultTokenPath()
	}
	c.Auth.TokenPath = expandHome(c.Auth.TokenPath)
	if c.Sync.CheckpointPath == "" {
		c.Sync.CheckpointPath = ".pocket_checkpoint"
	}
	if c.Extract.Reducer == "" {
		c.Extract.Reducer = "readability"
	}
	if c.Extract.Timeout == 0 {
		c.Extract.Timeout = 90 * time.Second
	}
	if c.Extract.MaxBodyBytes == 0 {
		c.Extract.MaxBodyBytes = 5 << 20
	}
	if c.Extract.UserAgent == "" {
		c.Extract.UserAgent = "PocketExporter/1.2"
	}
	if c.Extract.BatchSize <= 0 {
		c.Extract.BatchSize = MaxPageSize
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatJSON
	}
	if c.Output.File == "" {
		c.Output.File = "pocket_articles.json"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "PocketExport"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "pocket_archiver"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "archived"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "archived_items"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pocket_access_token"
	}
	return filepath.Join(home, ".pocket_access_token")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
