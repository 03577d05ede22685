// Package config loads the pairsrun application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	"github.com/sawpanic/pairsrun/internal/infrastructure/db"
	"github.com/sawpanic/pairsrun/internal/prices"
)

// Price sources understood by the data section
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// AppConfig represents the overall application configuration
type AppConfig struct {
	Engine   pairtrade.Config `yaml:"engine"`
	Data     DataSection      `yaml:"data"`
	Database db.Config        `yaml:"database"`
	Cache    CacheSection     `yaml:"cache"`
	Output   OutputSection    `yaml:"output"`
	Run      RunSection       `yaml:"run"`
	Server   ServerSection    `yaml:"server"`
}

// DataSection says where pairs and prices come from
type DataSection struct {
	Source    string                `yaml:"source"`
	PricesDir string                `yaml:"prices_dir"`
	PairsFile string                `yaml:"pairs_file"`
	Chosen    []int                 `yaml:"chosen"`
	Postgres  prices.PostgresConfig `yaml:"postgres"`
}

// CacheSection holds cache-related configuration
type CacheSection struct {
	Redis struct {
		Addr     string        `yaml:"addr"`
		DB       int           `yaml:"db"`
		Password string        `yaml:"password"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

// Enabled reports whether a Redis address is configured
func (c CacheSection) Enabled() bool {
	return c.Redis.Addr != ""
}

// OutputSection holds artifact settings
type OutputSection struct {
	Dir     string `yaml:"dir"`
	Persist bool   `yaml:"persist"`
}

// RunSection holds worker pool settings
type RunSection struct {
	Workers int `yaml:"workers"`
}

// ServerSection configures the HTTP surface of `pairsrun serve`
type ServerSection struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port
func (s ServerSection) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultAppConfig returns a default application configuration
func DefaultAppConfig() *AppConfig {
	config := &AppConfig{
		Engine:   pairtrade.DefaultConfig(),
		Database: db.DefaultConfig(),
		Data: DataSection{
			Source:    SourceCSV,
			PricesDir: "data/prices",
			PairsFile: "data/pairs.csv",
			Postgres:  prices.DefaultPostgresConfig(),
		},
		Output: OutputSection{Dir: pairtrade.DefaultRunnerConfig().OutputDir},
		Run:    RunSection{Workers: pairtrade.DefaultRunnerConfig().Workers},
		Server: ServerSection{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	config.Cache.Redis.TTL = 24 * time.Hour
	return config
}

// LoadAppConfig loads application configuration from YAML file with environment
// variable overrides. Keys absent from the file keep their defaults; a missing
// file yields the defaults.
func LoadAppConfig(configPath string) (*AppConfig, error) {
	config := DefaultAppConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(config *AppConfig) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Database.Enabled = val
		}
	}

	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			config.Database.MaxOpenConns = val
		}
	}

	if queryTimeout := os.Getenv("PG_QUERY_TIMEOUT"); queryTimeout != "" {
		if val, err := time.ParseDuration(queryTimeout); err == nil {
			config.Database.QueryTimeout = val
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
	}

	if workers := os.Getenv("PAIRSRUN_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err == nil {
			config.Run.Workers = val
		}
	}

	if dir := os.Getenv("PAIRSRUN_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}

	if port := os.Getenv("HTTP_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			config.Server.Port = val
		}
	}
}

// SaveAppConfig saves the application configuration to a YAML file
func SaveAppConfig(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Problems lists every configuration error found
func (c *AppConfig) Problems() []string {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := c.Engine.Validate(); err != nil {
		add("engine: %v", err)
	}

	switch c.Data.Source {
	case SourceCSV:
		if c.Data.PricesDir == "" {
			add("data.prices_dir is required for the csv source")
		}
	case SourcePostgres:
		if !c.Database.Enabled {
			add("data.source postgres needs database.enabled")
		}
	default:
		add("data.source must be %q or %q, got %q", SourceCSV, SourcePostgres, c.Data.Source)
	}
	if c.Data.PairsFile == "" {
		add("data.pairs_file is required")
	}
	for _, idx := range c.Data.Chosen {
		if idx < 0 {
			add("data.chosen contains negative index %d", idx)
		}
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		add("database DSN is required when database is enabled")
	}
	if c.Database.MaxOpenConns <= 0 {
		add("max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		add("max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		add("max_idle_conns cannot exceed max_open_conns")
	}
	if c.Database.QueryTimeout <= 0 {
		add("query_timeout must be positive")
	}

	if c.Cache.Enabled() && c.Cache.Redis.TTL <= 0 {
		add("cache.redis.ttl must be positive")
	}
	if c.Output.Persist && !c.Database.Enabled {
		add("output.persist needs database.enabled")
	}
	if c.Run.Workers <= 0 {
		add("run.workers must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}

	return problems
}

// Validate validates the application configuration
func (c *AppConfig) Validate() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}

	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = errors.New(p)
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// RunnerConfig derives the worker pool configuration
func (c *AppConfig) RunnerConfig() *pairtrade.RunnerConfig {
	return &pairtrade.RunnerConfig{
		Engine:    c.Engine,
		Workers:   c.Run.Workers,
		OutputDir: c.Output.Dir,
	}
}
