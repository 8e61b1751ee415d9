package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, dbPath, logLevel = "", "", "info"
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) (cfgPath, db string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "boothcrawl.yaml")
	db = filepath.Join(dir, "data", "booths.db")
	yaml := `sources:
  - id: alpha
    name: Alpha Directory
    urls: ["https://alpha.example.com/booths/"]
    strategy: directory
    fetch_mode: direct
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, db
}

func TestCLI_SourcesSeededFromConfig(t *testing.T) {
	// WHAT: Declared sources are seeded on start and listed with their state.
	cfgPath, db := writeConfig(t)

	out, err := execute(t, "sources", "--config", cfgPath, "--db", db, "--log-level", "error")
	if err != nil {
		t.Fatal(err)
	}
	var rows []struct {
		ID    string   `json:"id"`
		URLs  []string `json:"urls"`
		State string   `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("output %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].ID != "alpha" || rows[0].State != "pending" {
		t.Errorf("rows = %+v", rows)
	}
	if rows[0].URLs[0] != "https://alpha.example.com/booths" {
		t.Errorf("url not normalized: %v", rows[0].URLs)
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestCLI_Errors(t *testing.T) {
	cfgPath, db := writeConfig(t)

	if _, err := execute(t, "reset", "missing", "--config", cfgPath, "--db", db, "--log-level", "error"); err == nil {
		t.Error("reset of unknown source should fail")
	}
	if _, err := execute(t, "run-source", "--db", db); err == nil {
		t.Error("run-source without an id should fail")
	}
	if _, err := execute(t, "sources", "--config", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file should fail")
	}
}
