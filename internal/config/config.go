// Package config loads duesync settings from TOML files, .env files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultListenAddr  = ":5000"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultAPIURL      = "https://app.asana.com/api/1.0"
	DefaultDBFileName  = ".duesync.db"
	DefaultRedisURL    = "redis://localhost:6379"
	DefaultRedisPrefix = "duesync:"

	DefaultHTTPTimeout       = 30 * time.Second
	DefaultRateLimitRetries  = 3
	DefaultTransientRetries  = 3
	DefaultBaseBackoff       = time.Second
	DefaultRetryAfter        = 60 * time.Second
	DefaultHandlerTimeout    = 4 * time.Minute
	DefaultExtendManualDates = true

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	configFileName           = ".duesync.toml"
	configDirEnvKey          = "DUESYNC_CONFIG_DIR"
	trustProjectConfigEnvKey = "DUESYNC_TRUST_PROJECT_CONFIG"
	envFileEnvKey            = "DUESYNC_ENV_FILE"
)

// PriorityOptions maps priority levels to enum option gids.
type PriorityOptions struct {
	Low    string `toml:"low"`
	Medium string `toml:"medium"`
	High   string `toml:"high"`
}

// AsanaConfig configures the remote gateway.
type AsanaConfig struct {
	APIURL           string          `toml:"api_url"`
	Token            string          `toml:"token"`
	WorkspaceID      string          `toml:"workspace_id"`
	ProjectID        string          `toml:"project_id"`
	TrackedSectionID string          `toml:"tracked_section_id"`
	PriorityFieldID  string          `toml:"priority_field_id"`
	HTTPTimeout      time.Duration   `toml:"http_timeout"`
	Priorities       PriorityOptions `toml:"priorities"`
}

// RetryConfig configures retries of remote calls.
type RetryConfig struct {
	RateLimitRetries  int           `toml:"rate_limit_retries"`
	TransientRetries  int           `toml:"transient_retries"`
	BaseBackoff       time.Duration `toml:"base_backoff"`
	DefaultRetryAfter time.Duration `toml:"default_retry_after"`
}

// EngineConfig configures event handling.
type EngineConfig struct {
	HandlerTimeout       time.Duration `toml:"handler_timeout"`
	ExtendManualDueDates bool          `toml:"extend_manual_due_dates"`
}

// StateConfig selects where tracking state is kept.
type StateConfig struct {
	Backend     string `toml:"backend"`
	DBPath      string `toml:"db_path"`
	RedisURL    string `toml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix"`
}

// WebhookConfig configures inbound deliveries and registration.
type WebhookConfig struct {
	VerifySignatures bool   `toml:"verify_signatures"`
	TargetURL        string `toml:"target_url"`
}

// AdminConfig guards the state endpoint.
type AdminConfig struct {
	TokenHash string `toml:"token_hash"`
}

// Config defines runtime configuration for duesync.
type Config struct {
	ListenAddr string        `toml:"listen_addr"`
	LogLevel   string        `toml:"log_level"`
	LogFormat  string        `toml:"log_format"`
	LogFile    string        `toml:"log_file"`
	Asana      AsanaConfig   `toml:"asana"`
	Retry      RetryConfig   `toml:"retry"`
	Engine     EngineConfig  `toml:"engine"`
	State      StateConfig   `toml:"state"`
	Webhook    WebhookConfig `toml:"webhook"`
	Admin      AdminConfig   `toml:"admin"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
		Asana: AsanaConfig{
			APIURL:      DefaultAPIURL,
			HTTPTimeout: DefaultHTTPTimeout,
		},
		Retry: RetryConfig{
			RateLimitRetries:  DefaultRateLimitRetries,
			TransientRetries:  DefaultTransientRetries,
			BaseBackoff:       DefaultBaseBackoff,
			DefaultRetryAfter: DefaultRetryAfter,
		},
		Engine: EngineConfig{
			HandlerTimeout:       DefaultHandlerTimeout,
			ExtendManualDueDates: DefaultExtendManualDates,
		},
		State: StateConfig{
			Backend:     BackendMemory,
			RedisURL:    DefaultRedisURL,
			RedisPrefix: DefaultRedisPrefix,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

// loadEnvFiles reads KEY=VALUE files into the environment without replacing
// variables that are already set.
func loadEnvFiles() error {
	if path := strings.TrimSpace(os.Getenv(envFileEnvKey)); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

var allowedKeys = []string{
	"listen_addr",
	"log_level",
	"log_format",
	"log_file",
	"asana.api_url",
	"asana.token",
	"asana.workspace_id",
	"asana.project_id",
	"asana.tracked_section_id",
	"asana.priority_field_id",
	"asana.http_timeout",
	"asana.priorities.low",
	"asana.priorities.medium",
	"asana.priorities.high",
	"retry.rate_limit_retries",
	"retry.transient_retries",
	"retry.base_backoff",
	"retry.default_retry_after",
	"engine.handler_timeout",
	"engine.extend_manual_due_dates",
	"state.backend",
	"state.db_path",
	"state.redis_url",
	"state.redis_prefix",
	"webhook.verify_signatures",
	"webhook.target_url",
	"admin.token_hash",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "listen_addr":
		return c.ListenAddr, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "log_file":
		return c.LogFile, nil
	case "asana.api_url":
		return c.Asana.APIURL, nil
	case "asana.token":
		return redact(c.Asana.Token), nil
	case "asana.workspace_id":
		return c.Asana.WorkspaceID, nil
	case "asana.project_id":
		return c.Asana.ProjectID, nil
	case "asana.tracked_section_id":
		return c.Asana.TrackedSectionID, nil
	case "asana.priority_field_id":
		return c.Asana.PriorityFieldID, nil
	case "asana.http_timeout":
		return c.Asana.HTTPTimeout.String(), nil
	case "asana.priorities.low":
		return c.Asana.Priorities.Low, nil
	case "asana.priorities.medium":
		return c.Asana.Priorities.Medium, nil
	case "asana.priorities.high":
		return c.Asana.Priorities.High, nil
	case "retry.rate_limit_retries":
		return strconv.Itoa(c.Retry.RateLimitRetries), nil
	case "retry.transient_retries":
		return strconv.Itoa(c.Retry.TransientRetries), nil
	case "retry.base_backoff":
		return c.Retry.BaseBackoff.String(), nil
	case "retry.default_retry_after":
		return c.Retry.DefaultRetryAfter.String(), nil
	case "engine.handler_timeout":
		return c.Engine.HandlerTimeout.String(), nil
	case "engine.extend_manual_due_dates":
		return strconv.FormatBool(c.Engine.ExtendManualDueDates), nil
	case "state.backend":
		return c.State.Backend, nil
	case "state.db_path":
		return c.State.DBPath, nil
	case "state.redis_url":
		return c.State.RedisURL, nil
	case "state.redis_prefix":
		return c.State.RedisPrefix, nil
	case "webhook.verify_signatures":
		return strconv.FormatBool(c.Webhook.VerifySignatures), nil
	case "webhook.target_url":
		return c.Webhook.TargetURL, nil
	case "admin.token_hash":
		return c.Admin.TokenHash, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads .env files and trusted config files, then applies env overrides.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	applyEnv(&cfg)

	if cfg.State.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.State.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	cfg.normalize()

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		keys   []string
		target *string
	}{
		{[]string{"DUESYNC_LISTEN_ADDR"}, &cfg.ListenAddr},
		{[]string{"DUESYNC_LOG_LEVEL"}, &cfg.LogLevel},
		{[]string{"DUESYNC_ASANA_TOKEN", "ASANA_API_KEY"}, &cfg.Asana.Token},
		{[]string{"DUESYNC_PROJECT_ID", "ASANA_PROJECT_ID"}, &cfg.Asana.ProjectID},
		{[]string{"DUESYNC_WORKSPACE_ID", "ASANA_WORKSPACE_ID"}, &cfg.Asana.WorkspaceID},
		{[]string{"DUESYNC_TRACKED_SECTION_ID", "IN_PROGRESS_SECTION_ID"}, &cfg.Asana.TrackedSectionID},
		{[]string{"DUESYNC_STATE_BACKEND"}, &cfg.State.Backend},
		{[]string{"DUESYNC_DB"}, &cfg.State.DBPath},
		{[]string{"DUESYNC_REDIS_URL"}, &cfg.State.RedisURL},
	}
	for _, o := range overrides {
		for _, key := range o.keys {
			if value := strings.TrimSpace(os.Getenv(key)); value != "" {
				*o.target = value
				break
			}
		}
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("DUESYNC_LISTEN_ADDR") == "" {
		cfg.ListenAddr = ":" + port
	}
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if strings.TrimSpace(c.LogFormat) == "" {
		c.LogFormat = DefaultLogFormat
	}
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = BackendMemory
	}
	if c.Asana.HTTPTimeout <= 0 {
		c.Asana.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Engine.HandlerTimeout <= 0 {
		c.Engine.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.Retry.BaseBackoff <= 0 {
		c.Retry.BaseBackoff = DefaultBaseBackoff
	}
	if c.Retry.DefaultRetryAfter <= 0 {
		c.Retry.DefaultRetryAfter = DefaultRetryAfter
	}
	if c.Retry.RateLimitRetries < 0 {
		c.Retry.RateLimitRetries = DefaultRateLimitRetries
	}
	if c.Retry.TransientRetries < 0 {
		c.Retry.TransientRetries = DefaultTransientRetries
	}
	if c.State.RedisPrefix == "" {
		c.State.RedisPrefix = DefaultRedisPrefix
	}
}

// Validate checks the settings the webhook server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Asana.Token == "" {
		missing = append(missing, "asana.token")
	}
	if c.Asana.TrackedSectionID == "" {
		missing = append(missing, "asana.tracked_section_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	switch c.State.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown state backend %q (want memory, sqlite or redis)", c.State.Backend)
	}
	// A rate-limited call waits at least this long, so a shorter handler
	// timeout cancels every delivery that hits a 429 without Retry-After.
	if c.Retry.DefaultRetryAfter >= c.Engine.HandlerTimeout {
		return fmt.Errorf("retry.default_retry_after (%s) must be shorter than engine.handler_timeout (%s)",
			c.Retry.DefaultRetryAfter, c.Engine.HandlerTimeout)
	}
	return nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "retry.rate_limit_retries", "retry.transient_retries":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "asana.http_timeout", "retry.base_backoff", "retry.default_retry_after", "engine.handler_timeout":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 30s", key)
		}
		return parsed.String(), nil
	case "engine.extend_manual_due_dates", "webhook.verify_signatures":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "state.backend":
		switch strings.ToLower(value) {
		case BackendMemory, BackendSQLite, BackendRedis:
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("%s must be one of memory, sqlite, redis", key)
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
