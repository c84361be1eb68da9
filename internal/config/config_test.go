package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME and the working directory at fresh temp dirs and
// clears every variable Load reads.
func isolate(t *testing.T) (home, workspace string) {
	t.Helper()
	home = t.TempDir()
	workspace = t.TempDir()

	for _, key := range []string{
		"DUESYNC_CONFIG_DIR", "DUESYNC_TRUST_PROJECT_CONFIG", "DUESYNC_ENV_FILE",
		"DUESYNC_LISTEN_ADDR", "DUESYNC_LOG_LEVEL", "DUESYNC_ASANA_TOKEN", "ASANA_API_KEY",
		"DUESYNC_PROJECT_ID", "ASANA_PROJECT_ID", "DUESYNC_WORKSPACE_ID", "ASANA_WORKSPACE_ID",
		"DUESYNC_TRACKED_SECTION_ID", "IN_PROGRESS_SECTION_ID",
		"DUESYNC_STATE_BACKEND", "DUESYNC_DB", "DUESYNC_REDIS_URL", "PORT",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", home)

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(workspace); err != nil {
		t.Fatalf("chdir workspace: %v", err)
	}
	return home, workspace
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected listen addr %q, got %q", DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.LogLevel)
	}
	if cfg.Asana.APIURL != DefaultAPIURL {
		t.Fatalf("expected default api url, got %q", cfg.Asana.APIURL)
	}
	if cfg.Retry.RateLimitRetries != 3 || cfg.Retry.TransientRetries != 3 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Retry.DefaultRetryAfter != 60*time.Second {
		t.Fatalf("expected 60s default retry-after, got %s", cfg.Retry.DefaultRetryAfter)
	}
	if !cfg.Engine.ExtendManualDueDates {
		t.Fatal("expected manual due dates to be extended by default")
	}
	if cfg.State.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.State.Backend)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	writeFile(t, path, `listen_addr = ":9000"
log_level = "warn"

[asana]
tracked_section_id = "sec-1"
http_timeout = "10s"

[asana.priorities]
high = "opt-h"

[retry]
base_backoff = "250ms"

[engine]
extend_manual_due_dates = false
`)

	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.LogLevel != "warn" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Asana.TrackedSectionID != "sec-1" || cfg.Asana.Priorities.High != "opt-h" {
		t.Fatalf("unexpected asana values: %+v", cfg.Asana)
	}
	if cfg.Asana.HTTPTimeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.Asana.HTTPTimeout)
	}
	if cfg.Retry.BaseBackoff != 250*time.Millisecond {
		t.Fatalf("expected 250ms backoff, got %s", cfg.Retry.BaseBackoff)
	}
	if cfg.Retry.TransientRetries != DefaultTransientRetries {
		t.Fatalf("expected default transient retries to survive, got %d", cfg.Retry.TransientRetries)
	}
	if cfg.Engine.ExtendManualDueDates {
		t.Fatal("expected extend_manual_due_dates=false")
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFile("/nonexistent/path/.duesync.toml", &cfg); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("defaults should be preserved")
	}
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	writeFile(t, path, "listen_addr = \n")

	cfg := Default()
	if err := loadFile(path, &cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIsAllowedKey(t *testing.T) {
	for _, key := range []string{
		"listen_addr",
		"asana.tracked_section_id",
		"asana.priorities.high",
		"retry.default_retry_after",
		"engine.extend_manual_due_dates",
		"state.backend",
		"admin.token_hash",
	} {
		if !IsAllowedKey(key) {
			t.Fatalf("expected %q to be allowed", key)
		}
	}
	if IsAllowedKey("invalid") {
		t.Fatal("expected 'invalid' to not be allowed")
	}
}

func TestGetKey(t *testing.T) {
	cfg := Default()
	cfg.Asana.Token = "secret"
	cfg.Asana.Priorities.Medium = "opt-m"
	cfg.State.DBPath = "/tmp/test.db"

	for _, key := range AllowedKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
	}

	cases := map[string]string{
		"listen_addr":                    DefaultListenAddr,
		"asana.token":                    "********",
		"asana.priorities.medium":        "opt-m",
		"asana.http_timeout":             "30s",
		"retry.rate_limit_retries":       "3",
		"engine.extend_manual_due_dates": "true",
		"state.db_path":                  "/tmp/test.db",
	}
	for key, want := range cases {
		got, err := cfg.Get(key)
		if err != nil || got != want {
			t.Fatalf("get %s = %q (err: %v), want %q", key, got, err, want)
		}
	}
	if _, err := cfg.Get("invalid"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestSetKeyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.toml")
	if err := SetKey(path, "listen_addr", ":7000"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Fatalf("expected ':7000', got %q", cfg.ListenAddr)
	}
}

func TestSetKeyUpdatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.toml")
	writeFile(t, path, "listen_addr = \":1\"\n\n[asana]\nproject_id = \"keep\"\n")

	if err := SetKey(path, "asana.tracked_section_id", "sec-9"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Asana.TrackedSectionID != "sec-9" {
		t.Fatalf("expected 'sec-9', got %q", cfg.Asana.TrackedSectionID)
	}
	if cfg.Asana.ProjectID != "keep" || cfg.ListenAddr != ":1" {
		t.Fatalf("expected existing values preserved, got %+v", cfg)
	}
}

func TestSetKeyTypedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typed.toml")
	for key, value := range map[string]string{
		"retry.transient_retries":        "5",
		"engine.handler_timeout":         "2m",
		"engine.extend_manual_due_dates": "false",
		"state.backend":                  "SQLite",
	} {
		if err := SetKey(path, key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retry.TransientRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.Retry.TransientRetries)
	}
	if cfg.Engine.HandlerTimeout != 2*time.Minute {
		t.Fatalf("expected 2m timeout, got %s", cfg.Engine.HandlerTimeout)
	}
	if cfg.Engine.ExtendManualDueDates {
		t.Fatal("expected extend_manual_due_dates=false")
	}
	if cfg.State.Backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.State.Backend)
	}
}

func TestSetKeyRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	cases := map[string]string{
		"invalid_key":               "value",
		"retry.rate_limit_retries":  "-1",
		"retry.base_backoff":        "soon",
		"webhook.verify_signatures": "maybe",
		"state.backend":             "postgres",
	}
	for key, value := range cases {
		if err := SetKey(path, key, value); err == nil {
			t.Fatalf("expected error for %s=%s", key, value)
		}
	}
}

func TestConfigDirOverridePaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DUESYNC_CONFIG_DIR", dir)

	globalPath, err := GlobalPath()
	if err != nil {
		t.Fatalf("global path: %v", err)
	}
	if globalPath != filepath.Join(dir, configFileName) {
		t.Fatalf("unexpected global path: %s", globalPath)
	}

	projectPath, err := ProjectPath()
	if err != nil {
		t.Fatalf("project path: %v", err)
	}
	if projectPath != filepath.Join(dir, configFileName) {
		t.Fatalf("unexpected project path: %s", projectPath)
	}
}

func TestLoadConfigDirOverride(t *testing.T) {
	_, workspace := isolate(t)
	configDir := t.TempDir()
	writeFile(t, filepath.Join(configDir, configFileName), "listen_addr = \":9001\"\n")
	writeFile(t, filepath.Join(workspace, configFileName), "listen_addr = \":9002\"\n")
	t.Setenv("DUESYNC_CONFIG_DIR", configDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9001" {
		t.Fatalf("expected config-dir listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.State.DBPath != filepath.Join(workspace, DefaultDBFileName) {
		t.Fatalf("expected default workspace db path, got %q", cfg.State.DBPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ASANA_API_KEY", "legacy-token")
	t.Setenv("DUESYNC_ASANA_TOKEN", "new-token")
	t.Setenv("IN_PROGRESS_SECTION_ID", "sec-env")
	t.Setenv("ASANA_PROJECT_ID", "proj-env")
	t.Setenv("DUESYNC_DB", "/tmp/override.db")
	t.Setenv("DUESYNC_STATE_BACKEND", "Redis")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Asana.Token != "new-token" {
		t.Fatalf("expected DUESYNC_ASANA_TOKEN to win, got %q", cfg.Asana.Token)
	}
	if cfg.Asana.TrackedSectionID != "sec-env" || cfg.Asana.ProjectID != "proj-env" {
		t.Fatalf("unexpected asana env overrides: %+v", cfg.Asana)
	}
	if cfg.State.DBPath != "/tmp/override.db" {
		t.Fatalf("expected env override for DB path, got %q", cfg.State.DBPath)
	}
	if cfg.State.Backend != BackendRedis {
		t.Fatalf("expected normalized redis backend, got %q", cfg.State.Backend)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected PORT to set listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	_, workspace := isolate(t)
	writeFile(t, filepath.Join(workspace, ".env"), "ASANA_API_KEY=from-dotenv\nIN_PROGRESS_SECTION_ID=sec-dotenv\n")
	t.Cleanup(func() {
		os.Unsetenv("ASANA_API_KEY")
		os.Unsetenv("IN_PROGRESS_SECTION_ID")
	})
	// godotenv never replaces variables that are already set, even to "".
	os.Unsetenv("ASANA_API_KEY")
	os.Unsetenv("IN_PROGRESS_SECTION_ID")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Asana.Token != "from-dotenv" {
		t.Fatalf("expected token from .env, got %q", cfg.Asana.Token)
	}
	if cfg.Asana.TrackedSectionID != "sec-dotenv" {
		t.Fatalf("expected section from .env, got %q", cfg.Asana.TrackedSectionID)
	}
}

func TestLoadFallsBackToDefaultLogLevelWhenConfiguredEmpty(t *testing.T) {
	home, _ := isolate(t)
	writeFile(t, filepath.Join(home, configFileName), "log_level = \"\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.LogLevel)
	}
}

func TestLoadIgnoresProjectConfigByDefault(t *testing.T) {
	home, workspace := isolate(t)
	writeFile(t, filepath.Join(home, configFileName), "listen_addr = \":1111\"\n")
	writeFile(t, filepath.Join(workspace, configFileName), "listen_addr = \":2222\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":1111" {
		t.Fatalf("expected global listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.TrustedProjectConfigPath != "" {
		t.Fatalf("expected no trusted project config path, got %q", cfg.TrustedProjectConfigPath)
	}
}

func TestLoadAppliesProjectConfigWhenTrusted(t *testing.T) {
	home, workspace := isolate(t)
	writeFile(t, filepath.Join(home, configFileName), "listen_addr = \":1111\"\n")
	writeFile(t, filepath.Join(workspace, configFileName), "listen_addr = \":2222\"\n")
	t.Setenv("DUESYNC_TRUST_PROJECT_CONFIG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":2222" {
		t.Fatalf("expected trusted project listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.TrustedProjectConfigPath != filepath.Join(workspace, configFileName) {
		t.Fatalf("unexpected trusted path %q", cfg.TrustedProjectConfigPath)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing token and section to fail")
	}

	cfg.Asana.Token = "tok"
	cfg.Asana.TrackedSectionID = "sec"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.Engine.HandlerTimeout = 45 * time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "retry.default_retry_after") {
		t.Fatalf("expected retry-after longer than handler timeout to fail, got %v", err)
	}
	cfg.Retry.DefaultRetryAfter = 30 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate with shorter retry-after: %v", err)
	}

	cfg.State.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}
