// Package config loads the application configuration from YAML files
// with credential handling via environment variables and .env files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Config holds all application configuration.
type Config struct {
	// Platform selects the automation backend: "auto", "tree", "agent"
	// or "db".
	Platform string `yaml:"platform"`

	// DataHome overrides the home directory used to locate the chat
	// client's data tree. Empty means the OS user home.
	DataHome string `yaml:"data_home"`

	// API configures outbound integrations.
	API APIConfig `yaml:"api"`

	// Keyring configures credential persistence.
	Keyring KeyringConfig `yaml:"keyring"`

	// Automation tunes the UI automation engine.
	Automation AutomationConfig `yaml:"automation"`

	// Listen configures the default watch set.
	Listen ListenConfig `yaml:"listen"`

	// Recovery tunes database key recovery.
	Recovery RecoveryConfig `yaml:"recovery"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds integration credentials.
type APIConfig struct {
	// APIKey authenticates outbound reply generation. Prefer the
	// WEREPLY_API_KEY environment variable over a literal value here.
	APIKey string `yaml:"api_key"`
}

// KeyringConfig configures the OS keyring.
type KeyringConfig struct {
	// Service is the keyring service name.
	Service string `yaml:"service"`
}

// AutomationConfig tunes the UI automation engine.
type AutomationConfig struct {
	// AllowDynamicScan permits full-tree scans when the static and
	// persisted paths fail to resolve.
	AllowDynamicScan bool `yaml:"allow_dynamic_scan"`

	// PollIntervalMS is the message poll period in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// OpTimeoutSeconds bounds each automation operation.
	OpTimeoutSeconds int `yaml:"op_timeout_seconds"`

	// SettleDelayMS is the wait after scrolling the session list.
	SettleDelayMS int `yaml:"settle_delay_ms"`

	// MaxScanRounds caps session-list scroll rounds.
	MaxScanRounds int `yaml:"max_scan_rounds"`
}

// ListenConfig holds the default watch set.
type ListenConfig struct {
	// Targets are conversation names watched when the listen command is
	// run without arguments. Empty means watch everything.
	Targets []string `yaml:"targets"`
}

// RecoveryConfig tunes database key recovery.
type RecoveryConfig struct {
	// DisableInstrumentation turns off live process attachment; the
	// persisted key and the entropy scan still run.
	DisableInstrumentation bool `yaml:"disable_instrumentation"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Platform: "auto",
		Keyring:  KeyringConfig{Service: "wereply"},
		Automation: AutomationConfig{
			AllowDynamicScan: true,
			PollIntervalMS:   800,
			OpTimeoutSeconds: 10,
			SettleDelayMS:    120,
			MaxScanRounds:    64,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// PollInterval returns the poll period as a duration.
func (a AutomationConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMS) * time.Millisecond
}

// OpTimeout returns the per-operation timeout as a duration.
func (a AutomationConfig) OpTimeout() time.Duration {
	return time.Duration(a.OpTimeoutSeconds) * time.Second
}

// TreeConfig maps the scalar tuning values onto the engine config.
func (a AutomationConfig) TreeConfig() automation.TreeConfig {
	cfg := automation.DefaultTreeConfig()
	cfg.AllowDynamicScan = a.AllowDynamicScan
	if a.SettleDelayMS > 0 {
		cfg.SessionScan.SettleDelay = time.Duration(a.SettleDelayMS) * time.Millisecond
	}
	if a.MaxScanRounds > 0 {
		cfg.SessionScan.MaxRounds = a.MaxScanRounds
	}
	return cfg
}

// Logger builds the application logger from the logging config.
func (l LoggingConfig) Logger(w *os.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LoadFromFile reads and parses a YAML configuration file. .env files
// are loaded first and environment references in the YAML are expanded.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	checkFilePermissions(path)
	return cfg, nil
}

// Load resolves the config: the explicit path when given, a discovered
// file otherwise, and pure defaults when no file exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		resolveSecrets(cfg)
		return cfg, nil
	}
	return LoadFromFile(path)
}

// Parse parses YAML bytes into a Config, overlaying the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes a Config as YAML with restricted permissions. A real
// API key is replaced with an environment reference when one matches.
func SaveToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, "WEREPLY_API_KEY")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"wereply.yaml",
		"wereply.yml",
		"config.yaml",
		"config.yml",
		"configs/wereply.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references in a string with
// their environment variable values. Unset references stay literal.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// resolveSecrets fills in config secrets from environment variables when
// the config value is empty or a placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if key := os.Getenv("WEREPLY_API_KEY"); key != "" {
			cfg.API.APIKey = key
		}
	}
}

func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if the config file is group/world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
		)
	}
}
