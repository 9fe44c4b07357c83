// Package config loads reportsdb settings from YAML and the MGI environment.
package config

import (
	"fmt"
	"strings"
)

// AppName names the XDG configuration directory.
const AppName = "reportsdb"

// Config holds all reportsdb settings.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Output   OutputConfig   `yaml:"output"`
	Reports  ReportsConfig  `yaml:"reports"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	History  HistoryConfig  `yaml:"history"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig describes the MGD connection.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres|sqlite
	Server       string `yaml:"server"`
	Port         int    `yaml:"port"`
	Name         string `yaml:"name"`
	User         string `yaml:"user"`
	PasswordFile string `yaml:"password_file"`
	SSLMode      string `yaml:"sslmode"`
	DSN          string `yaml:"dsn"` // overrides the composed DSN; sqlite path for driver=sqlite
	Trace        bool   `yaml:"trace"`
}

// OutputConfig selects where report files land.
type OutputConfig struct {
	Driver   string   `yaml:"driver"` // fs|s3|memory
	Dir      string   `yaml:"dir"`
	Prefix   string   `yaml:"prefix"`
	Compress bool     `yaml:"compress"`
	S3       S3Config `yaml:"s3"`
}

// S3Config configures the S3 output driver.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// ReportsConfig controls batch runs.
type ReportsConfig struct {
	Parallelism int      `yaml:"parallelism"`
	Formats     []string `yaml:"formats"`
	Exclude     []string `yaml:"exclude"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig points at observability outputs.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	TraceFile string `yaml:"trace_file"`
}

// HistoryConfig selects the run-history store.
type HistoryConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres|none
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig configures `reportsdb serve`.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:  "postgres",
			Server:  "localhost",
			Port:    5432,
			Name:    "mgd",
			User:    "mgd_public",
			SSLMode: "disable",
		},
		Output: OutputConfig{
			Driver: "fs",
			Dir:    "./reports",
		},
		Reports: ReportsConfig{
			Parallelism: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		History: HistoryConfig{
			Driver: "sqlite",
			Path:   "reportsdb-history.db",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			Workers:   2,
			QueueSize: 32,
		},
	}
}

// Validate checks enumerations and limits.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: database driver %q", ErrInvalid, c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("%w: sqlite driver requires database.dsn", ErrInvalid)
	}
	switch c.Output.Driver {
	case "fs", "memory":
	case "s3":
		if c.Output.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 output requires a bucket", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: output driver %q", ErrInvalid, c.Output.Driver)
	}
	if c.Reports.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be at least 1", ErrInvalid)
	}
	switch c.History.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return fmt.Errorf("%w: history driver %q", ErrInvalid, c.History.Driver)
	}
	if c.Server.Workers < 1 || c.Server.QueueSize < 1 {
		return fmt.Errorf("%w: server workers and queue size must be positive", ErrInvalid)
	}
	return nil
}
