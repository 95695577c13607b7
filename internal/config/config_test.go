package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_SightlineYAML(t *testing.T) {
	cfg, err := Load("../../configs/sightline.yaml")
	if err != nil {
		t.Fatalf("load sightline.yaml: %v", err)
	}
	if cfg.DiscSides != 64 || cfg.Worker.QueueSize != 64 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Worker.Addr != "" {
		t.Fatalf("worker should run in process by default")
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("http.addr: %q", cfg.HTTP.Addr)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if len(cfg.SetOptions()) != 1 {
		t.Fatalf("expected one set option")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sightline.yaml")
	if err := os.WriteFile(path, []byte("disc_sides: 16\nstore:\n  disable: true\n  path: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DiscSides != 16 || !cfg.Store.Disable {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("defaults lost: %+v", cfg.HTTP)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"disc_sides":        func(c *Config) { c.DiscSides = 2 },
		"default_tolerance": func(c *Config) { c.DefaultTolerance = -1 },
		"worker.addr":       func(c *Config) { c.Worker.Addr = "http://x" },
		"store.path":        func(c *Config) { c.Store.Path = "" },
		"http.addr":         func(c *Config) { c.HTTP.Addr = " " },
		"interval_sec":      func(c *Config) { c.Snapshots.IntervalSec = -1 },
		"mirror.bucket":     func(c *Config) { c.Mirror.Endpoint = "minio:9000" },
	}
	for field, mutate := range cases {
		cfg := defaults()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), field) {
			t.Fatalf("%s: got %v", field, err)
		}
	}
}

func TestLoad_WrapsYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("disc_sides: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.HasPrefix(err.Error(), "sightline.yaml:") {
		t.Fatalf("got %v", err)
	}
}

func TestNormalize_MirrorCredentialsFromEnv(t *testing.T) {
	t.Setenv("SIGHTLINE_MIRROR_ACCESS_KEY", "ak")
	t.Setenv("SIGHTLINE_MIRROR_SECRET_KEY", "sk")
	cfg := defaults()
	cfg.Mirror = MirrorConfig{Endpoint: "minio:9000", Bucket: "fog"}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mirror.AccessKeyID != "ak" || cfg.Mirror.SecretAccessKey != "sk" || cfg.Mirror.Workers != 2 {
		t.Fatalf("mirror: %+v", cfg.Mirror)
	}
	if !cfg.Mirror.Enabled() {
		t.Fatalf("mirror should be enabled")
	}
}
