package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9100\nlog_level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OLIANA_LOG_LEVEL", "debug")
	t.Setenv("PORT", "")
	t.Setenv("OLIANA_BIN_DIR", "")
	t.Setenv("OLIANA_TRACKED_PROC_DIR", "")
	t.Setenv("PER_PROC_MEM_FRACT", "")
	t.Setenv("RUN_LOCAL_SERVER", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9100 {
		t.Fatalf("port = %d, want 9100 (from file)", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug (env overrides file)", cfg.LogLevel)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9050 {
		t.Fatalf("port = %d, want default 9050", cfg.Port)
	}
	if !cfg.RunLocalServer {
		t.Fatal("expected RunLocalServer to default true")
	}
}

func TestIsFalsy(t *testing.T) {
	cases := map[string]bool{"f": true, "F": true, "0": true, "": false, "true": false, "1": false}
	for in, want := range cases {
		if got := isFalsy(in); got != want {
			t.Errorf("isFalsy(%q) = %v, want %v", in, got, want)
		}
	}
}
