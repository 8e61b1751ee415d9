package crawl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfig(t *testing.T) {
	// WHAT: YAML sections map onto the component configs; durations parse.
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("BOOTHCRAWL_DB", "")
	data := []byte(`
db_path: /tmp/booths.db
fetch:
  scrape_endpoint: https://scrape.example.com
  timeout: 45s
llm:
  model: claude-sonnet-4-5
  api_key: sk-file
dedup:
  radius_meters: 75
coordinator:
  workers: 2
  run_timeout: 5m
  fetch_retries: 0
scheduler:
  check_interval: 30s
sources:
  - id: photoautomat
    name: Photoautomat
    urls: [https://www.photoautomat.de/standorte.html]
    strategy: directory
    cadence: 168h
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/booths.db" || cfg.Fetch.Timeout != 45*time.Second {
		t.Errorf("top-level = %+v", cfg)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("env key should override file key, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.HTTP.Addr != ":8090" || cfg.Fetch.PageLimit != 20 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Dedup.RadiusMeters != 75 || cfg.Coordinator.Workers != 2 || cfg.Coordinator.RunTimeout != 5*time.Minute {
		t.Errorf("component configs = %+v %+v", cfg.Dedup, cfg.Coordinator)
	}
	if r := cfg.Coordinator.FetchRetries; r == nil || *r != 0 || cfg.Coordinator.ExtractRetries != nil {
		t.Errorf("retries = %v/%v, want explicit 0 and unset", r, cfg.Coordinator.ExtractRetries)
	}
	if cfg.Scheduler.CheckInterval != 30*time.Second {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}

	want := []SourceConfig{{
		ID: "photoautomat", Name: "Photoautomat",
		URLs:     []string{"https://www.photoautomat.de/standorte.html"},
		Strategy: "directory", Cadence: 168 * time.Hour,
	}}
	if diff := cmp.Diff(want, cfg.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConfig_UnknownKey(t *testing.T) {
	// WHAT: Misspelled keys are rejected instead of silently ignored.
	if _, err := ParseConfig([]byte("coordinater:\n  workers: 2\n")); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("BOOTHCRAWL_DB", "/var/lib/boothcrawl/env.db")
	path := filepath.Join(t.TempDir(), "boothcrawl.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: gemini\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/var/lib/boothcrawl/env.db" || cfg.LLM.Provider != "gemini" {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	os.WriteFile(empty, nil, 0o644)
	if _, err := LoadConfigFile(empty); err != nil {
		t.Errorf("empty file: %v", err)
	}
}
