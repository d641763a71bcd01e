// Package config loads runtime configuration for the credshield CLI.
//
// Sources, lowest precedence first:
//
//  1. Built-in defaults (Default).
//  2. An optional JSON file (LoadFile), selected with --config.
//  3. Command-line flags (BindFlags), applied only when set.
//
// JSON example:
//
//	{
//	  "base_url": "https://auth.example.com",
//	  "timeout": "10s",
//	  "session_path": "/home/alice/.credshield/session.db",
//	  "kdf": "pbkdf2-sha256",
//	  "log_level": "debug"
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/jmcleod/credshield/engine"
)

const (
	DefaultBaseURL  = "http://localhost:8000"
	DefaultTimeout  = 15 * time.Second
	DefaultLogLevel = "info"
)

// Config holds the resolved CLI settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	SessionPath string
	KDF         engine.KDF
	LogLevel    string
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
		SessionPath: defaultSessionPath(),
		KDF:         engine.KDFArgon2id,
		LogLevel:    DefaultLogLevel,
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".credshield", "session.db")
	}
	return filepath.Join(home, ".credshield", "session.db")
}

// Duration accepts "15s"-style strings or integer nanoseconds in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// fileConfig is the JSON shape. Absent fields leave the current value.
type fileConfig struct {
	BaseURL     string    `json:"base_url"`
	Timeout     *Duration `json:"timeout"`
	SessionPath string    `json:"session_path"`
	KDF         string    `json:"kdf"`
	LogLevel    string    `json:"log_level"`
}

// LoadFile overlays cfg with the JSON file at path. An empty path is a no-op.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if fc.BaseURL != "" {
		c.BaseURL = fc.BaseURL
	}
	if fc.Timeout != nil {
		c.Timeout = time.Duration(*fc.Timeout)
	}
	if fc.SessionPath != "" {
		c.SessionPath = fc.SessionPath
	}
	if fc.KDF != "" {
		c.KDF = engine.KDF(fc.KDF)
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	return nil
}

// Flags holds flag values until they are applied over the loaded config.
type Flags struct {
	fs          *pflag.FlagSet
	ConfigPath  string
	baseURL     string
	timeout     time.Duration
	sessionPath string
	kdf         string
	logLevel    string
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a JSON config file")
	fs.StringVarP(&f.baseURL, "server", "s", d.BaseURL, "auth server base URL")
	fs.DurationVar(&f.timeout, "timeout", d.Timeout, "HTTP request timeout")
	fs.StringVar(&f.sessionPath, "session", d.SessionPath, "session database path")
	fs.StringVar(&f.kdf, "kdf", string(d.KDF), "key derivation function (argon2id, pbkdf2-sha256)")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "log level (debug, info, warn, error)")
	return f
}

// Load resolves defaults, then the --config file, then explicitly set
// flags, and validates the result.
func (f *Flags) Load() (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFile(f.ConfigPath); err != nil {
		return nil, err
	}
	if f.fs.Changed("server") {
		cfg.BaseURL = f.baseURL
	}
	if f.fs.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if f.fs.Changed("session") {
		cfg.SessionPath = f.sessionPath
	}
	if f.fs.Changed("kdf") {
		cfg.KDF = engine.KDF(f.kdf)
	}
	if f.fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and normalizes KDF and LogLevel.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base url %q must be an absolute http(s) url", c.BaseURL))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.SessionPath == "" {
		errs = append(errs, errors.New("session path must not be empty"))
	}
	if kdf, err := engine.ParseKDF(string(c.KDF)); err != nil {
		errs = append(errs, err)
	} else {
		c.KDF = kdf
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	} else {
		c.LogLevel = strings.ToLower(c.LogLevel)
	}
	return errors.Join(errs...)
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

// KDFConfig returns the engine configuration for the selected KDF with
// default cost parameters.
func (c *Config) KDFConfig() engine.KDFConfig {
	kc := engine.DefaultKDFConfig()
	kc.Algorithm = c.KDF
	return kc
}
