// Package config provides unified configuration loading for the mill knowledge pipeline.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mill knowledge pipeline.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Sources       SourcesConfig       `yaml:"sources"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Output        OutputConfig        `yaml:"output"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	KeyPrefix  string        `yaml:"key_prefix"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SourcesConfig lists the spreadsheet files feeding each source.
type SourcesConfig struct {
	BOMFiles     []string `yaml:"bom_files"`
	RouteFiles   []string `yaml:"route_files"`
	QualityFiles []string `yaml:"quality_files"`
}

// ChunkingConfig holds token budget settings.
type ChunkingConfig struct {
	TokenBudget      int     `yaml:"token_budget"`
	Encoding         string  `yaml:"encoding"`
	ApproxMultiplier float64 `yaml:"approx_multiplier"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	MaxConcurrentLoads int  `yaml:"max_concurrent_loads"`
	FailOnUnmapped     bool `yaml:"fail_on_unmapped"`
}

// OutputConfig controls where the final chunk collection is written.
type OutputConfig struct {
	JSONPath   string `yaml:"json_path"`
	VocabPath  string `yaml:"vocab_path"`
	PrettyJSON bool   `yaml:"pretty_json"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		cfg.resolveSourcePaths(path)
	}

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/mill-knowledge.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			KeyPrefix:  "mk:",
			Redis: RedisConfig{
				Addr:     "localhost:6380",
				DB:       0,
				PoolSize: 10,
			},
		},
		Chunking: ChunkingConfig{
			TokenBudget:      550,
			Encoding:         "cl100k_base",
			ApproxMultiplier: 1.3,
		},
		Ingestion: IngestionConfig{
			MaxConcurrentLoads: 4,
		},
		Output: OutputConfig{
			JSONPath:   "all_combined_chunks.json",
			VocabPath:  "process_config.yaml",
			PrettyJSON: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "mill-knowledge",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Chunking.TokenBudget < 1 {
		return fmt.Errorf("token_budget must be positive, got %d", c.Chunking.TokenBudget)
	}

	if c.Chunking.ApproxMultiplier <= 0 {
		return fmt.Errorf("approx_multiplier must be positive")
	}

	if c.Ingestion.MaxConcurrentLoads < 1 {
		return fmt.Errorf("max_concurrent_loads must be at least 1")
	}

	return nil
}

// HasSources reports whether at least one input file is configured.
func (c *Config) HasSources() bool {
	return len(c.Sources.BOMFiles)+len(c.Sources.RouteFiles)+len(c.Sources.QualityFiles) > 0
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

func (c *Config) resolveSourcePaths(configPath string) {
	for _, list := range []*[]string{&c.Sources.BOMFiles, &c.Sources.RouteFiles, &c.Sources.QualityFiles} {
		for i, p := range *list {
			(*list)[i] = ResolveRelativePath(configPath, p)
		}
	}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("MILL_BOM_FILES"); v != "" {
		cfg.Sources.BOMFiles = splitList(v)
	}

	if v := os.Getenv("MILL_ROUTE_FILES"); v != "" {
		cfg.Sources.RouteFiles = splitList(v)
	}

	if v := os.Getenv("MILL_QUALITY_FILES"); v != "" {
		cfg.Sources.QualityFiles = splitList(v)
	}

	if v := os.Getenv("TOKEN_BUDGET"); v != "" {
		if budget, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.TokenBudget = budget
		}
	}

	if v := os.Getenv("TOKEN_ENCODING"); v != "" {
		cfg.Chunking.Encoding = v
	}

	if v := os.Getenv("OUTPUT_JSON"); v != "" {
		cfg.Output.JSONPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// splitList splits a comma or path-list separated env value.
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == os.PathListSeparator
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
