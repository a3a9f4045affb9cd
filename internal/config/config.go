// Package config resolves logwhisperer settings from built-in defaults, the
// environment and an optional YAML file, and validates the result.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/sgerhart/logwhisperer/internal/notify"
	"github.com/sgerhart/logwhisperer/internal/publisher"
	"github.com/sgerhart/logwhisperer/internal/severity"
)

// AppName names the state directory
const AppName = "logwhisperer"

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "LOGWHISPERER_"

//go:embed schema.json
var schemaJSON []byte

// Config is the merged configuration of one run
type Config struct {
	StateDB         string       `yaml:"state_db" json:"state_db"`
	BaselineState   string       `yaml:"baseline_state" json:"baseline_state"`
	Since           string       `yaml:"since" json:"since"`
	Lines           int          `yaml:"lines" json:"lines"`
	MinSeverity     string       `yaml:"min_severity" json:"min_severity"`
	MaxAlertItems   int          `yaml:"max_alert_items" json:"max_alert_items"`
	CacheSize       int          `yaml:"cache_size" json:"cache_size"`
	MetricsTextfile string       `yaml:"metrics_textfile" json:"metrics_textfile"`
	Log             LogConfig    `yaml:"log" json:"log"`
	Notify          NotifyConfig `yaml:"notify" json:"notify"`
}

// LogConfig controls the diagnostic logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// NotifyConfig holds the settings of every notification transport
type NotifyConfig struct {
	Ntfy     NtfyConfig     `yaml:"ntfy" json:"ntfy"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	Email    EmailConfig    `yaml:"email" json:"email"`
	NATS     NATSConfig     `yaml:"nats" json:"nats"`
}

type NtfyConfig struct {
	Server string `yaml:"server" json:"server"`
	Topic  string `yaml:"topic" json:"topic"`
}

type TelegramConfig struct {
	APIURL string `yaml:"api_url" json:"api_url"`
	Token  string `yaml:"token" json:"token"`
	ChatID string `yaml:"chat_id" json:"chat_id"`
}

type EmailConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	NoTLS    bool   `yaml:"no_tls" json:"no_tls"`
}

type NATSConfig struct {
	URL            string `yaml:"url" json:"url"`
	Subject        string `yaml:"subject" json:"subject"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// DefaultStateDir follows the XDG base directory layout:
// $XDG_STATE_HOME/logwhisperer, else ~/.local/state/logwhisperer
func DefaultStateDir() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, AppName)
}

// Default returns the built-in configuration
func Default() *Config {
	stateDir := DefaultStateDir()
	return &Config{
		StateDB:       filepath.Join(stateDir, "patterns.db"),
		BaselineState: filepath.Join(stateDir, "baseline.json"),
		Since:         "1h",
		Lines:         5000,
		MinSeverity:   "INFO",
		MaxAlertItems: 10,
		CacheSize:     4096,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Notify: NotifyConfig{
			Ntfy:  NtfyConfig{Server: notify.DefaultNtfyServer},
			Email: EmailConfig{Port: 587},
			NATS: NATSConfig{
				Subject:        publisher.DefaultSubject,
				TimeoutSeconds: 5,
			},
		},
	}
}

// Load layers defaults, environment and the YAML file at path (if any).
// Flags are applied by the caller before Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LOGWHISPERER_* variables
func (c *Config) ApplyEnv() {
	c.StateDB = getEnv("STATE_DB", c.StateDB)
	c.BaselineState = getEnv("BASELINE_STATE", c.BaselineState)
	c.Since = getEnv("SINCE", c.Since)
	c.Lines = getEnvInt("LINES", c.Lines)
	c.MinSeverity = getEnv("MIN_SEVERITY", c.MinSeverity)
	c.MaxAlertItems = getEnvInt("MAX_ALERT_ITEMS", c.MaxAlertItems)
	c.MetricsTextfile = getEnv("METRICS_TEXTFILE", c.MetricsTextfile)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	n := &c.Notify
	n.Ntfy.Topic = getEnv("NTFY_TOPIC", n.Ntfy.Topic)
	n.Ntfy.Server = getEnv("NTFY_SERVER", n.Ntfy.Server)
	n.Telegram.Token = getEnv("TELEGRAM_TOKEN", n.Telegram.Token)
	n.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", n.Telegram.ChatID)
	n.Email.Host = getEnv("SMTP_HOST", n.Email.Host)
	n.Email.Port = getEnvInt("SMTP_PORT", n.Email.Port)
	n.Email.Username = getEnv("SMTP_USER", n.Email.Username)
	n.Email.Password = getEnv("SMTP_PASS", n.Email.Password)
	n.Email.From = getEnv("EMAIL_FROM", n.Email.From)
	n.Email.To = getEnv("EMAIL_TO", n.Email.To)
	n.Email.NoTLS = getEnvBool("SMTP_NO_TLS", n.Email.NoTLS)
	n.NATS.URL = getEnv("NATS_URL", n.NATS.URL)
	n.NATS.Subject = getEnv("NATS_SUBJECT", n.NATS.Subject)
}

// LoadFile merges a YAML file over the current values. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate normalizes case-insensitive fields, then checks the config
// against the embedded JSON schema and the cross-field rules. Every problem
// is reported as a *ValidationError.
func (c *Config) Validate() error {
	if sev, err := severity.Parse(c.MinSeverity); err == nil {
		c.MinSeverity = string(sev)
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to load config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(c))
	if err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	var errs *multierror.Error
	for _, re := range result.Errors() {
		errs = multierror.Append(errs, &ValidationError{Field: re.Field(), Message: re.Description()})
	}

	if c.StateDB != "" && filepath.Clean(c.StateDB) == filepath.Clean(c.BaselineState) {
		errs = multierror.Append(errs, &ValidationError{Field: "baseline_state", Message: "must differ from state_db"})
	}
	if c.MetricsTextfile != "" && !strings.HasSuffix(c.MetricsTextfile, ".prom") {
		errs = multierror.Append(errs, &ValidationError{Field: "metrics_textfile", Message: "must end in .prom for the textfile collector"})
	}

	return errs.ErrorOrNil()
}

// NotifySettings converts the HTTP and SMTP transport settings
func (c *Config) NotifySettings() notify.Settings {
	n := c.Notify
	return notify.Settings{
		Ntfy: notify.NtfySettings{
			Server: n.Ntfy.Server,
			Topic:  n.Ntfy.Topic,
		},
		Telegram: notify.TelegramSettings{
			APIURL: n.Telegram.APIURL,
			Token:  n.Telegram.Token,
			ChatID: n.Telegram.ChatID,
		},
		Email: notify.EmailSettings{
			Host:     n.Email.Host,
			Port:     n.Email.Port,
			Username: n.Email.Username,
			Password: n.Email.Password,
			From:     n.Email.From,
			To:       n.Email.To,
			NoTLS:    n.Email.NoTLS,
		},
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
