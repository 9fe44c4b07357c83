package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves environment variables; os.LookupEnv in production.
type LookupFunc func(string) (string, bool)

// DefaultPath returns the XDG location of the config file, or "" when none exists.
func DefaultPath() string {
	path, err := xdg.SearchConfigFile(filepath.Join(AppName, "config.yaml"))
	if err != nil {
		return ""
	}
	return path
}

// Load reads the configuration. An explicit path must exist; without one the
// XDG default is used when present. Environment overrides are applied last.
func Load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && explicit:
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays MGI and REPORTSDB_* environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, name, v)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, name, v)
		}
		*dst = b
		return nil
	}

	str("MGD_DBSERVER", &c.Database.Server)
	str("MGD_DBNAME", &c.Database.Name)
	str("MGD_DBUSER", &c.Database.User)
	str("MGD_DBPASSWORDFILE", &c.Database.PasswordFile)
	str("REPORTSDB_DB_DRIVER", &c.Database.Driver)
	str("REPORTSDB_DB_DSN", &c.Database.DSN)
	str("REPORTOUTPUTDIR", &c.Output.Dir)
	str("REPORTSDB_OUTPUT_DRIVER", &c.Output.Driver)
	str("REPORTSDB_OUTPUT_PREFIX", &c.Output.Prefix)
	str("REPORTSDB_S3_BUCKET", &c.Output.S3.Bucket)
	str("REPORTSDB_S3_REGION", &c.Output.S3.Region)
	str("REPORTSDB_S3_ENDPOINT", &c.Output.S3.Endpoint)
	str("REPORTSDB_LOG_LEVEL", &c.Logging.Level)
	str("REPORTSDB_LOG_FORMAT", &c.Logging.Format)
	str("REPORTSDB_HISTORY_DRIVER", &c.History.Driver)
	str("REPORTSDB_HISTORY_PATH", &c.History.Path)
	str("REPORTSDB_HISTORY_DSN", &c.History.DSN)
	str("REPORTSDB_METRICS_TEXTFILE", &c.Metrics.Textfile)
	str("REPORTSDB_TRACE_FILE", &c.Metrics.TraceFile)
	str("REPORTSDB_SERVER_ADDR", &c.Server.Addr)

	for _, fn := range []func() error{
		func() error { return num("MGD_DBPORT", &c.Database.Port) },
		func() error { return num("REPORTSDB_PARALLELISM", &c.Reports.Parallelism) },
		func() error { return flag("REPORTSDB_S3_PATH_STYLE", &c.Output.S3.PathStyle) },
		func() error { return flag("REPORTSDB_COMPRESS", &c.Output.Compress) },
		func() error { return flag("REPORTSDB_DB_TRACE", &c.Database.Trace) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	if v, ok := lookup("REPORTSDB_FORMATS"); ok && strings.TrimSpace(v) != "" {
		c.Reports.Formats = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
