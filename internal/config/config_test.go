package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadNoConfig(t *testing.T) {
	_, _, err := Load(t.TempDir())
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	content := "broker:\n  - \"broker1:7711\"\nqueue: ci\nconcurrency: 4\n"
	if err := os.WriteFile(filepath.Join(dir, ".dwq.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, name, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != ".dwq.yaml" {
		t.Errorf("name = %q", name)
	}
	if cfg.Queue != "ci" || cfg.Concurrency != 4 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Broker) != 1 || cfg.Broker[0] != "broker1:7711" {
		t.Errorf("unexpected broker list: %v", cfg.Broker)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := "queue = \"nightly\"\nconcurrency = 2\n"
	if err := os.WriteFile(filepath.Join(dir, ".dwq.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue != "nightly" {
		t.Errorf("queue = %q", cfg.Queue)
	}
	if len(cfg.Broker) != 1 || cfg.Broker[0] != "localhost:7711" {
		t.Errorf("expected default broker to be applied, got %v", cfg.Broker)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"queue": "release", "jobdir_capacity": 16}`
	if err := os.WriteFile(filepath.Join(dir, ".dwq.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, name, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != ".dwq.json" {
		t.Errorf("name = %q", name)
	}
	if cfg.Queue != "release" || cfg.JobdirCapacity != 16 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".dwq.yaml"), []byte("queue: first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dwq.yaml"), []byte("queue: second"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, name, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if name != ".dwq.yaml" {
		t.Errorf("expected .dwq.yaml priority, got %s", name)
	}
	if cfg.Queue != "first" {
		t.Errorf("queue = %q, want %q", cfg.Queue, "first")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Queue != "default" || cfg.Concurrency != 1 || cfg.JobdirCapacity != 8 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Broker) != 1 || cfg.Broker[0] != "localhost:7711" {
		t.Errorf("unexpected default broker: %v", cfg.Broker)
	}
}
