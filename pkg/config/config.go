// Package config loads and validates edgesearch configuration from YAML files
// with environment-variable overrides. Command-line flags are applied on top
// by cmd/edgesearch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/errors"
)

// Recognised document encodings. Keep in sync with extract.Encoding.
var documentEncodings = map[string]struct{}{
	"text": {},
	"nul":  {},
	"json": {},
}

// Config is the top-level application configuration.
type Config struct {
	Build    BuildConfig    `yaml:"build"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// BuildConfig holds the parameters of a single index build. The query limits
// are embedded in the artifact.
type BuildConfig struct {
	DocumentEncoding    string `yaml:"documentEncoding"`
	DocumentTermsPath   string `yaml:"documentTerms"`
	DocumentsPath       string `yaml:"documents"`
	MaximumQueryBytes   int    `yaml:"maximumQueryBytes"`
	MaximumQueryResults int    `yaml:"maximumQueryResults"`
	MaximumQueryTerms   int    `yaml:"maximumQueryTerms"`
	MaximumChunkBytes   int    `yaml:"maximumChunkBytes"`
	// MaximumDirectoryBytes caps the encoded directory, which is stored as
	// one value. Zero leaves it unbounded.
	MaximumDirectoryBytes int    `yaml:"maximumDirectoryBytes"`
	Workers               int    `yaml:"workers"`
	OutputDir             string `yaml:"outputDir"`
}

// Validate rejects configurations that cannot produce an artifact.
func (b BuildConfig) Validate() error {
	if _, ok := documentEncodings[b.DocumentEncoding]; !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEncoding, b.DocumentEncoding)
	}
	if b.MaximumQueryBytes <= 0 {
		return fmt.Errorf("%w: maximum query bytes must be positive", apperrors.ErrInvalidInput)
	}
	if b.MaximumQueryResults <= 0 {
		return fmt.Errorf("%w: maximum query results must be positive", apperrors.ErrInvalidInput)
	}
	if b.MaximumQueryTerms <= 0 {
		return fmt.Errorf("%w: maximum query terms must be positive", apperrors.ErrInvalidInput)
	}
	if b.MaximumChunkBytes <= 0 {
		return fmt.Errorf("%w: maximum chunk bytes must be positive", apperrors.ErrInvalidInput)
	}
	if b.MaximumDirectoryBytes < 0 {
		return fmt.Errorf("%w: maximum directory bytes must not be negative", apperrors.ErrInvalidInput)
	}
	if b.OutputDir == "" {
		return fmt.Errorf("%w: output dir is required", apperrors.ErrInvalidInput)
	}
	return nil
}

// DeployConfig names the deployment and selects what gets uploaded.
type DeployConfig struct {
	Name               string `yaml:"name"`
	Namespace          string `yaml:"namespace"`
	KeyPrefix          string `yaml:"keyPrefix"`
	UploadData         bool   `yaml:"uploadData"`
	DefaultResultsPath string `yaml:"defaultResults"`
	OutputDir          string `yaml:"outputDir"`
}

func (d DeployConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: deployment name is required", apperrors.ErrInvalidInput)
	}
	if d.OutputDir == "" {
		return fmt.Errorf("%w: output dir is required", apperrors.ErrInvalidInput)
	}
	if d.DefaultResultsPath == "" {
		return fmt.Errorf("%w: default results file is required", apperrors.ErrInvalidInput)
	}
	return nil
}

// ServerConfig holds evaluator host settings. Source is "disk" to serve the
// artifact in Deploy.OutputDir or "redis" to serve the deployment named by
// Deploy from the key-value store.
type ServerConfig struct {
	Source          string        `yaml:"source"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// LoadAttempts bounds the retries of the first artifact load while the
	// source is unavailable.
	LoadAttempts int `yaml:"loadAttempts"`
	// WatchDeploys reloads a redis-sourced host when a deploy event for the
	// same deployment arrives on Kafka.
	WatchDeploys bool `yaml:"watchDeploys"`
}

func (s ServerConfig) Validate() error {
	switch s.Source {
	case "disk", "redis":
	default:
		return fmt.Errorf("%w: unknown host source %q", apperrors.ErrInvalidInput, s.Source)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", apperrors.ErrInvalidInput, s.Port)
	}
	if s.LoadAttempts < 1 {
		return fmt.Errorf("%w: load attempts must be at least 1", apperrors.ErrInvalidInput)
	}
	return nil
}

// RedisConfig holds the remote key-value store connection.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
	// The evaluator host stops reading chunks for BreakerReset after
	// BreakerThreshold consecutive store failures.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// KafkaConfig configures the optional deployment notification. An empty
// broker list disables it.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	DeployTopic   string   `yaml:"deployTopic"`
	ConsumerGroup string   `yaml:"consumerGroup"`
}

// PostgresConfig configures the optional deployment ledger. An empty host
// disables it.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint on the evaluator host. A zero
// Port serves /metrics on the host's own port.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			DocumentEncoding:      "text",
			MaximumQueryBytes:     512,
			MaximumQueryTerms:     50,
			MaximumChunkBytes:     1 << 20,
			MaximumDirectoryBytes: 64 << 20,
		},
		Deploy: DeployConfig{
			KeyPrefix: "edgesearch",
		},
		Server: ServerConfig{
			Source:          "disk",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RequestTimeout:  5 * time.Second,
			LoadAttempts:    3,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize:         10,
			Timeout:          5 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Kafka: KafkaConfig{
			DeployTopic:   "artifact.deployed",
			ConsumerGroup: "edgesearch-host",
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "edgesearch",
			User:            "edgesearch",
			SSLMode:         "disable",
			MaxOpenConns:    2,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyEnvOverrides reads ES_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ES_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ES_SERVER_SOURCE"); v != "" {
		cfg.Server.Source = v
	}
	if v := os.Getenv("ES_MAXIMUM_CHUNK_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.MaximumChunkBytes = n
		}
	}
	if v := os.Getenv("ES_MAXIMUM_DIRECTORY_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.MaximumDirectoryBytes = n
		}
	}
	if v := os.Getenv("ES_BUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Build.Workers = n
		}
	}
	if v := os.Getenv("ES_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ES_DEPLOY_NAME"); v != "" {
		cfg.Deploy.Name = v
	}
	if v := os.Getenv("ES_DEPLOY_NAMESPACE"); v != "" {
		cfg.Deploy.Namespace = v
	}
	if v := os.Getenv("ES_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ES_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ES_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ES_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ES_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ES_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
