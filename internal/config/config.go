// Package config loads portalmover settings from an optional YAML file,
// PORTALMOVER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/markduk/portalmover/internal/query"
)

// EnvPrefix prefixes every environment variable; "target.url" is read from
// PORTALMOVER_TARGET_URL.
const EnvPrefix = "PORTALMOVER"

// DefaultFileName is looked up in the working directory when no config
// file is given.
const DefaultFileName = "portalmover"

// Config keys
const (
	KeyTargetURL             = "target.url"
	KeyTargetToken           = "target.token"
	KeyTargetTimeout         = "target.timeout"
	KeyTargetRetryMaxElapsed = "target.retry.max_elapsed"

	KeyImportMaxSweeps    = "import.max_sweeps"
	KeyImportExemptEntity = "import.exempt_entity"
	KeyImportLanguage     = "import.language"

	KeyFiltersWebsiteID     = "filters.website_id"
	KeyFiltersModifiedSince = "filters.modified_since"

	KeyStorePath = "store.path"

	KeyTelemetryEnabled     = "telemetry.enabled"
	KeyTelemetryStdout      = "telemetry.stdout"
	KeyTelemetryMetricsFile = "telemetry.metrics_file"
)

// Config is the resolved configuration.
type Config struct {
	Target    TargetConfig    `json:"target"`
	Import    ImportConfig    `json:"import"`
	Filters   FilterConfig    `json:"filters"`
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// TargetConfig describes the remote Web API.
type TargetConfig struct {
	URL             string        `json:"url"`
	Token           string        `json:"-"`
	Timeout         time.Duration `json:"timeout"`
	RetryMaxElapsed time.Duration `json:"retry_max_elapsed"`
}

// ImportConfig tunes the import engine.
type ImportConfig struct {
	MaxSweeps    int    `json:"max_sweeps"`
	ExemptEntity string `json:"exempt_entity"`
	Language     string `json:"language"`
}

// FilterConfig scopes which staged records are imported.
type FilterConfig struct {
	WebsiteID     string    `json:"website_id,omitempty"`
	ModifiedSince time.Time `json:"modified_since,omitzero"`
}

// StoreConfig locates the staging database.
type StoreConfig struct {
	Path string `json:"path"`
}

// TelemetryConfig controls tracing and metrics export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Stdout      bool   `json:"stdout"`
	MetricsFile string `json:"metrics_file,omitempty"`
}

// New returns a viper instance with defaults and environment binding.
// Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTargetTimeout, "30s")
	v.SetDefault(KeyTargetRetryMaxElapsed, "2m")
	v.SetDefault(KeyImportMaxSweeps, 5)
	v.SetDefault(KeyImportExemptEntity, "annotation")
	v.SetDefault(KeyImportLanguage, "en-US")
	v.SetDefault(KeyStorePath, "portalmover.db")
	v.SetDefault(KeyTelemetryEnabled, false)
	v.SetDefault(KeyTelemetryStdout, false)
	return v
}

// Load reads the config file into v and resolves the configuration.
// An explicit path must exist; without one, portalmover.yaml in the
// working directory is read if present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	since, err := sinceValue(v.Get(KeyFiltersModifiedSince))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyFiltersModifiedSince, err)
	}

	cfg := &Config{
		Target: TargetConfig{
			URL:             v.GetString(KeyTargetURL),
			Token:           v.GetString(KeyTargetToken),
			Timeout:         v.GetDuration(KeyTargetTimeout),
			RetryMaxElapsed: v.GetDuration(KeyTargetRetryMaxElapsed),
		},
		Import: ImportConfig{
			MaxSweeps:    v.GetInt(KeyImportMaxSweeps),
			ExemptEntity: v.GetString(KeyImportExemptEntity),
			Language:     v.GetString(KeyImportLanguage),
		},
		Filters: FilterConfig{
			WebsiteID:     v.GetString(KeyFiltersWebsiteID),
			ModifiedSince: since,
		},
		Store: StoreConfig{Path: v.GetString(KeyStorePath)},
		Telemetry: TelemetryConfig{
			Enabled:     v.GetBool(KeyTelemetryEnabled),
			Stdout:      v.GetBool(KeyTelemetryStdout),
			MetricsFile: v.GetString(KeyTelemetryMetricsFile),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sinceValue resolves the modified-since filter. YAML files may carry an
// unquoted date, which arrives already parsed.
func sinceValue(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseSince(v)
	default:
		return time.Time{}, fmt.Errorf("want a timestamp, got %T", raw)
	}
}

// parseSince accepts an RFC 3339 timestamp or a plain date.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 timestamp or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Import.MaxSweeps < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyImportMaxSweeps, c.Import.MaxSweeps)
	}
	if _, err := language.Parse(c.Import.Language); err != nil {
		return fmt.Errorf("%s: %w", KeyImportLanguage, err)
	}
	if c.Target.URL != "" {
		u, err := url.Parse(c.Target.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", KeyTargetURL, c.Target.URL)
		}
	}
	if c.Target.Timeout < 0 {
		return fmt.Errorf("%s must not be negative", KeyTargetTimeout)
	}
	return nil
}

// Language returns the label language.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Import.Language)
	if err != nil {
		return language.English
	}
	return tag
}

// QueryFilters converts the filter settings for the query builder.
func (c *Config) QueryFilters() query.Filters {
	return query.Filters{
		WebsiteID:     c.Filters.WebsiteID,
		ModifiedSince: c.Filters.ModifiedSince,
	}
}
