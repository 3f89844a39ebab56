// Package config provides configuration management for the EPG generator.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	// ErrPlaylistRequired is returned when no playlist path is configured.
	ErrPlaylistRequired = errors.New("playlist path is required")
	// ErrOutputRequired is returned when no output path is configured.
	ErrOutputRequired = errors.New("output path is required")
	// ErrInvalidSourceURL is returned when a guide source is not an http(s) URL.
	ErrInvalidSourceURL = errors.New("invalid guide source URL")
	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("fetch timeout must be positive")
	// ErrInvalidRedirects is returned when the redirect limit is negative.
	ErrInvalidRedirects = errors.New("max redirects must not be negative")
	// ErrInvalidBodyLimit is returned when the body size limit is not positive.
	ErrInvalidBodyLimit = errors.New("max body bytes must be positive")
	// ErrInvalidHorizon is returned when the placeholder horizon is unusable.
	ErrInvalidHorizon = errors.New("invalid placeholder horizon")
	// ErrInvalidMatch is returned when the match strategy is unknown.
	ErrInvalidMatch = errors.New("invalid match strategy")
	// ErrRefreshIntervalPositive is returned when refresh interval is not positive.
	ErrRefreshIntervalPositive = errors.New("refresh interval must be positive")
	// ErrInvalidLogLevel is returned when log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// DefaultSource is the guide consulted when no other source is configured.
const DefaultSource = "https://raw.githubusercontent.com/BuddyChewChew/xumo-playlist-generator/main/playlists/xumo_epg.xml.gz"

const envPrefix = "IPTV_EPG_"

// Config holds the application configuration.
type Config struct {
	Playlist           string        `yaml:"playlist"`
	Output             string        `yaml:"output"`
	OutputGzip         bool          `yaml:"output_gzip"`
	Sources            []string      `yaml:"sources"`
	UsePlaylistSources bool          `yaml:"use_playlist_sources"`
	Match              string        `yaml:"match"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	MaxRedirects       int           `yaml:"max_redirects"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	Days               int           `yaml:"days"`
	SlotHours          int           `yaml:"slot_hours"`
	GeneratorName      string        `yaml:"generator_name"`
	GeneratorURL       string        `yaml:"generator_url"`
	ValidateOutput     bool          `yaml:"validate_output"`
	LogLevel           string        `yaml:"log_level"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Playlist:           "index.m3u",
		Output:             "epg.xml",
		Sources:            []string{DefaultSource},
		UsePlaylistSources: true,
		Match:              "substring",
		FetchTimeout:       30 * time.Second,
		MaxRedirects:       10,
		MaxBodyBytes:       512 << 20,
		Days:               7,
		SlotHours:          2,
		GeneratorName:      "iptv-epg",
		GeneratorURL:       "https://github.com/savid/iptv-epg",
		ValidateOutput:     true,
		LogLevel:           "info",
		RefreshInterval:    6 * time.Hour,
	}
}

// Load returns the default configuration overlaid with the YAML file at path.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "Path to a YAML configuration file")
	fs.StringP("playlist", "p", d.Playlist, "Path of the M3U playlist to read")
	fs.StringP("output", "o", d.Output, "Path of the XMLTV guide to write")
	fs.Bool("output-gzip", d.OutputGzip, "Also write a gzip-compressed copy of the guide")
	fs.StringSlice("source", d.Sources, "Remote XMLTV guide URL, tried in order (repeatable)")
	fs.Bool("playlist-sources", d.UsePlaylistSources, "Also try url-tvg guides listed in the playlist header")
	fs.String("match", d.Match, "Channel matching strategy (substring, exact, normalized)")
	fs.Duration("fetch-timeout", d.FetchTimeout, "Timeout for each guide request")
	fs.Int("max-redirects", d.MaxRedirects, "Maximum redirects followed per guide request")
	fs.Int64("max-body-bytes", d.MaxBodyBytes, "Maximum decompressed guide size in bytes")
	fs.Int("days", d.Days, "Days covered by the placeholder guide")
	fs.Int("slot-hours", d.SlotHours, "Length in hours of each placeholder programme")
	fs.String("generator-name", d.GeneratorName, "generator-info-name written to the guide")
	fs.String("generator-url", d.GeneratorURL, "generator-info-url written to the guide")
	fs.Bool("validate-output", d.ValidateOutput, "Reject filtered guides that are not well-formed XML")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.Duration("refresh-interval", d.RefreshInterval, "Interval between generations in watch mode")
}

// New builds the configuration from defaults, the optional config file,
// IPTV_EPG_* environment variables and explicitly set flags, in that order.
func New(fs *pflag.FlagSet) (*Config, error) {
	path, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("PLAYLIST", &c.Playlist)
	env.str("OUTPUT", &c.Output)
	env.boolean("OUTPUT_GZIP", &c.OutputGzip)
	if v, ok := lookup(envPrefix + "SOURCES"); ok {
		c.Sources = splitList(v)
	}
	env.boolean("PLAYLIST_SOURCES", &c.UsePlaylistSources)
	env.str("MATCH", &c.Match)
	env.duration("FETCH_TIMEOUT", &c.FetchTimeout)
	env.integer("MAX_REDIRECTS", &c.MaxRedirects)
	env.integer64("MAX_BODY_BYTES", &c.MaxBodyBytes)
	env.integer("DAYS", &c.Days)
	env.integer("SLOT_HOURS", &c.SlotHours)
	env.str("GENERATOR_NAME", &c.GeneratorName)
	env.str("GENERATOR_URL", &c.GeneratorURL)
	env.boolean("VALIDATE_OUTPUT", &c.ValidateOutput)
	env.str("LOG_LEVEL", &c.LogLevel)
	env.duration("REFRESH_INTERVAL", &c.RefreshInterval)

	return env.err
}

// envReader reads IPTV_EPG_* variables and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return e.lookup(envPrefix + name)
}

func (e *envReader) fail(name string, err error) {
	e.err = fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(name string, dst *int64) {
	if v, ok := e.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	fs.Visit(func(f *pflag.Flag) {
		var err error
		switch f.Name {
		case "playlist":
			c.Playlist, err = fs.GetString(f.Name)
		case "output":
			c.Output, err = fs.GetString(f.Name)
		case "output-gzip":
			c.OutputGzip, err = fs.GetBool(f.Name)
		case "source":
			c.Sources, err = fs.GetStringSlice(f.Name)
		case "playlist-sources":
			c.UsePlaylistSources, err = fs.GetBool(f.Name)
		case "match":
			c.Match, err = fs.GetString(f.Name)
		case "fetch-timeout":
			c.FetchTimeout, err = fs.GetDuration(f.Name)
		case "max-redirects":
			c.MaxRedirects, err = fs.GetInt(f.Name)
		case "max-body-bytes":
			c.MaxBodyBytes, err = fs.GetInt64(f.Name)
		case "days":
			c.Days, err = fs.GetInt(f.Name)
		case "slot-hours":
			c.SlotHours, err = fs.GetInt(f.Name)
		case "generator-name":
			c.GeneratorName, err = fs.GetString(f.Name)
		case "generator-url":
			c.GeneratorURL, err = fs.GetString(f.Name)
		case "validate-output":
			c.ValidateOutput, err = fs.GetBool(f.Name)
		case "log-level":
			c.LogLevel, err = fs.GetString(f.Name)
		case "refresh-interval":
			c.RefreshInterval, err = fs.GetDuration(f.Name)
		}
		keep(err)
	})

	return firstErr
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Playlist == "" {
		return ErrPlaylistRequired
	}

	if c.Output == "" {
		return ErrOutputRequired
	}

	for _, source := range c.Sources {
		u, err := url.Parse(source)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSourceURL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s", ErrInvalidSourceURL, source)
		}
	}

	if c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRedirects < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRedirects, c.MaxRedirects)
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBodyLimit, c.MaxBodyBytes)
	}

	if c.Days < 1 {
		return fmt.Errorf("%w: days must be at least 1, got %d", ErrInvalidHorizon, c.Days)
	}

	if c.SlotHours < 1 || 24%c.SlotHours != 0 {
		return fmt.Errorf("%w: slot hours must divide 24, got %d", ErrInvalidHorizon, c.SlotHours)
	}

	switch c.Match {
	case "substring", "exact", "normalized":
	default:
		return fmt.Errorf("%w: %s (must be substring, exact or normalized)", ErrInvalidMatch, c.Match)
	}

	if c.RefreshInterval <= 0 {
		return ErrRefreshIntervalPositive
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("%w: %s (must be debug, info, warn, or error)", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
