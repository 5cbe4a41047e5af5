package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Environment  string             `yaml:"environment"`
	Database     DatabaseConfig     `yaml:"database"`
	Queue        QueueConfig        `yaml:"queue"`
	Paths        PathsConfig        `yaml:"paths"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	CORSOrigins  []string           `yaml:"cors_origins"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	Driver   string `yaml:"driver"` // "redis" or "memory"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"` // list key for the redis driver
}

// PathsConfig holds filesystem locations used by the analysis engine.
type PathsConfig struct {
	PluginsDir    string `yaml:"plugins_dir"`
	WorkspaceBase string `yaml:"workspace_base"`
	ArtifactsBase string `yaml:"artifacts_base"`
	SamplesDir    string `yaml:"samples_dir"`
}

// OrchestratorConfig holds worker pool and job lifecycle settings.
type OrchestratorConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	DefaultPipeline   string        `yaml:"default_pipeline"`
	CleanupWorkspace  bool          `yaml:"cleanup_workspace"`
	StaleJobTimeout   time.Duration `yaml:"stale_job_timeout"` // running jobs older than this are failed by the janitor
	SweepSchedule     string        `yaml:"sweep_schedule"`    // cron expression for the janitor
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config populated with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Environment: "development",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "aetherframe.db",
		},
		Queue: QueueConfig{
			Driver: "memory",
			Addr:   "localhost:6379",
			Name:   "aetherframe:jobs",
		},
		Paths: PathsConfig{
			PluginsDir:    "plugins",
			WorkspaceBase: "workspace",
			ArtifactsBase: "artifacts",
			SamplesDir:    "samples",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentJobs: 4,
			DefaultPipeline:   "quicklook",
			CleanupWorkspace:  true,
			StaleJobTimeout:   2 * time.Hour,
			SweepSchedule:     "@every 10m",
		},
		CORSOrigins: []string{"*"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config
// with environment overrides applied on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()

	return cfg, nil
}

// LoadDefault loads the file named by AETHERFRAME_CONFIG, falling back
// to "config.yaml" in the current directory. If the file does not
// exist, it returns defaults with environment overrides applied.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	path := os.Getenv("AETHERFRAME_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = Default()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AETHERFRAME_* environment variables onto the
// config. Environment values win over file values so one config file
// can serve several deployments.
func (c *Config) applyEnv() {
	setString(&c.Server.Host, "AETHERFRAME_HOST")
	if v := os.Getenv("AETHERFRAME_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	setString(&c.Environment, "AETHERFRAME_ENV")
	setString(&c.Database.Driver, "AETHERFRAME_DB_DRIVER")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Database.DSN, "AETHERFRAME_DB_DSN")
	setString(&c.Queue.Driver, "AETHERFRAME_QUEUE_DRIVER")
	setString(&c.Queue.Addr, "AETHERFRAME_REDIS_ADDR")
	setString(&c.Queue.Password, "AETHERFRAME_REDIS_PASSWORD")
	setString(&c.Paths.PluginsDir, "AETHERFRAME_PLUGINS_DIR")
	setString(&c.Paths.WorkspaceBase, "AETHERFRAME_WORKSPACE_BASE")
	setString(&c.Paths.ArtifactsBase, "AETHERFRAME_ARTIFACTS_BASE")
	setString(&c.Paths.SamplesDir, "AETHERFRAME_SAMPLES_DIR")
	setString(&c.Logging.Level, "AETHERFRAME_LOG_LEVEL")

	if v := os.Getenv("AETHERFRAME_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		if len(origins) > 0 {
			c.CORSOrigins = origins
		}
	}

	// A DSN pointing at postgres implies the postgres driver unless
	// the driver was set explicitly.
	if os.Getenv("AETHERFRAME_DB_DRIVER") == "" &&
		(strings.HasPrefix(c.Database.DSN, "postgres://") || strings.HasPrefix(c.Database.DSN, "postgresql://")) {
		c.Database.Driver = "postgres"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
