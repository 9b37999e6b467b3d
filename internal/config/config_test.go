package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"command", cfg.Command, "fluentd"},
		{"service", cfg.Service, "fluentd"},
		{"report_dir", cfg.ReportDir, "/var/log"},
		{"lib_dir", cfg.LibDir, "../lib"},
		{"search_path_env", cfg.SearchPathEnv, "RUBYLIB"},
		{"profile", cfg.Profile, true},
		{"sample_rate", cfg.SampleRate, 4096},
		{"top_n", cfg.TopN, 20},
		{"sample_interval", cfg.SampleInterval, 5 * time.Second},
		{"hook_timeout", cfg.HookTimeout, 10 * time.Second},
		{"kill_timeout", cfg.KillTimeout, 60 * time.Second},
		{"metrics_textfile", cfg.MetricsTextfile, ""},
		{"log_level", cfg.LogLevel, "info"},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("Expected default %s %v, got %v", tt.name, tt.expected, tt.got)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	data := []byte(`
command: fluent-bit
service: fluentbit
report_dir: /tmp/profiles
profile: false
sample_interval: 250ms
top_n: 5
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Command != "fluent-bit" {
		t.Errorf("Expected command fluent-bit, got %s", cfg.Command)
	}
	if cfg.Service != "fluentbit" {
		t.Errorf("Expected service fluentbit, got %s", cfg.Service)
	}
	if cfg.ReportDir != "/tmp/profiles" {
		t.Errorf("Expected report dir /tmp/profiles, got %s", cfg.ReportDir)
	}
	if cfg.Profile {
		t.Error("Expected profiling disabled")
	}
	if cfg.SampleInterval != 250*time.Millisecond {
		t.Errorf("Expected sample interval 250ms, got %v", cfg.SampleInterval)
	}
	if cfg.TopN != 5 {
		t.Errorf("Expected top_n 5, got %d", cfg.TopN)
	}
	// untouched keys keep their defaults
	if cfg.SearchPathEnv != "RUBYLIB" {
		t.Errorf("Expected default search path env RUBYLIB, got %s", cfg.SearchPathEnv)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	if err := os.WriteFile(path, []byte("service: fromfile\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FLUENTD_LAUNCHER_SERVICE", "fromenv")
	t.Setenv("FLUENTD_LAUNCHER_PROFILE", "false")
	t.Setenv("FLUENTD_LAUNCHER_HOOK_TIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service != "fromenv" {
		t.Errorf("Expected service fromenv, got %s", cfg.Service)
	}
	if cfg.Profile {
		t.Error("Expected profiling disabled from env")
	}
	if cfg.HookTimeout != 3*time.Second {
		t.Errorf("Expected hook timeout 3s, got %v", cfg.HookTimeout)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	if err == nil {
		t.Error("Expected an error for a missing file")
	}
	if cfg == nil {
		t.Fatal("Expected defaults alongside the error")
	}
	if cfg.Command != "fluentd" {
		t.Errorf("Expected default command fluentd, got %s", cfg.Command)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("command: [unterminated\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)

	if err == nil {
		t.Error("Expected an error for invalid YAML")
	}
	if cfg == nil {
		t.Fatal("Expected defaults alongside the error")
	}
	if cfg.ReportDir != "/var/log" {
		t.Errorf("Expected default report dir /var/log, got %s", cfg.ReportDir)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{SampleRate: -1, TopN: 0}
	cfg.Validate()

	if cfg.Command != "fluentd" {
		t.Errorf("Expected command fluentd, got %s", cfg.Command)
	}
	if cfg.SampleRate != 4096 {
		t.Errorf("Expected sample rate 4096, got %d", cfg.SampleRate)
	}
	if cfg.TopN != 20 {
		t.Errorf("Expected top_n 20, got %d", cfg.TopN)
	}
	if cfg.KillTimeout != 60*time.Second {
		t.Errorf("Expected kill timeout 60s, got %v", cfg.KillTimeout)
	}
}
