package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadDefaultsWhenFilesMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "also-nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Pool.MaxConcurrent != want.Pool.MaxConcurrent {
		t.Errorf("max_concurrent = %d, want %d", cfg.Pool.MaxConcurrent, want.Pool.MaxConcurrent)
	}
	if cfg.Retry.MaxRetries != want.Retry.MaxRetries {
		t.Errorf("max_retries = %d, want %d", cfg.Retry.MaxRetries, want.Retry.MaxRetries)
	}
	if cfg.HistoryCapacity != want.HistoryCapacity {
		t.Errorf("history_capacity = %d, want %d", cfg.HistoryCapacity, want.HistoryCapacity)
	}
}

func TestProjectConfigOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{
		"pool": {"poll_interval_ms": 50, "max_concurrent": 8, "grace_timeout_ms": 5000},
		"history_capacity": 200
	}`)
	project := writeConfig(t, dir, "project.json", `{
		"pool": {"poll_interval_ms": 50, "max_concurrent": 2, "grace_timeout_ms": 5000}
	}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxConcurrent != 2 {
		t.Errorf("max_concurrent = %d, want project override 2", cfg.Pool.MaxConcurrent)
	}
	if cfg.Pool.PollIntervalMs != 50 {
		t.Errorf("poll_interval_ms = %d, want 50", cfg.Pool.PollIntervalMs)
	}
	// Keys absent from the project file keep the global value.
	if cfg.HistoryCapacity != 200 {
		t.Errorf("history_capacity = %d, want global 200", cfg.HistoryCapacity)
	}
	// Untouched sections keep defaults.
	if cfg.Impact.MediumThreshold != 8 {
		t.Errorf("medium_threshold = %d, want default 8", cfg.Impact.MediumThreshold)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeConfig(t, dir, "bad.json", `{"pool": `)

	if _, err := Load(bad, ""); err == nil {
		t.Error("malformed global config accepted")
	}
	if _, err := Load("", bad); err == nil {
		t.Error("malformed project config accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Pool.MaxConcurrent = 16
	cfg.Breaker.Enabled = false
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Pool.MaxConcurrent != 16 {
		t.Errorf("max_concurrent = %d, want 16", loaded.Pool.MaxConcurrent)
	}
	if loaded.Breaker.Enabled {
		t.Error("breaker enabled flag not persisted")
	}
}
