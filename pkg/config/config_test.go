// pkg/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LockWaitTimeout.Duration != 5*time.Second {
		t.Errorf("LockWaitTimeout = %v, want 5s", cfg.LockWaitTimeout.Duration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty dir accepted")
	}

	cfg = NewDefaultConfig()
	cfg.LockWaitTimeout = Duration{0}
	if err := cfg.Validate(); err == nil {
		t.Error("zero lock-wait-timeout accepted")
	}

	cfg = NewDefaultConfig()
	cfg.GCInterval = Duration{-time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("negative gc-interval accepted")
	}
}

func TestFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	content := `
dir = "/tmp/strata-test"
log-level = "debug"
lock-wait-timeout = "250ms"
checkpoint-every = 42
gc-interval = "30s"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromTOMLFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dir != "/tmp/strata-test" {
		t.Errorf("Dir = %q", cfg.Dir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.LockWaitTimeout.Duration != 250*time.Millisecond {
		t.Errorf("LockWaitTimeout = %v", cfg.LockWaitTimeout.Duration)
	}
	if cfg.CheckpointEvery != 42 {
		t.Errorf("CheckpointEvery = %d", cfg.CheckpointEvery)
	}
	if cfg.GCInterval.Duration != 30*time.Second {
		t.Errorf("GCInterval = %v", cfg.GCInterval.Duration)
	}
}

func TestFromTOMLFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	if err := os.WriteFile(path, []byte(`dir = "d"`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromTOMLFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dir != "d" {
		t.Errorf("Dir = %q, want d", cfg.Dir)
	}
	if cfg.LockWaitTimeout.Duration != 5*time.Second {
		t.Errorf("LockWaitTimeout = %v, want the default 5s", cfg.LockWaitTimeout.Duration)
	}
}

func TestFromTOMLFileErrors(t *testing.T) {
	if _, err := FromTOMLFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte(`lock-wait-timeout = "not a duration"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := FromTOMLFile(path); err == nil {
		t.Error("unparsable duration accepted")
	}
}
