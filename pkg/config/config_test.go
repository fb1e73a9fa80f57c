package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.CPU.Low != 2 || cfg.CPU.High != 6 || cfg.CPU.Turbo != 12 || cfg.CPU.Max != 12 {
		t.Fatalf("unexpected cpu tier table %#v", cfg.CPU)
	}
	if cfg.Memory.Low != 2 || cfg.Memory.High != 12 || cfg.Memory.Turbo != 16 || cfg.Memory.Max != 16 {
		t.Fatalf("unexpected memory tier table %#v", cfg.Memory)
	}
	if cfg.BuildTimeoutMinutes != 90 || cfg.MaxTimeoutMinutes != 120 {
		t.Fatalf("unexpected timeouts %d/%d", cfg.BuildTimeoutMinutes, cfg.MaxTimeoutMinutes)
	}
	if cfg.ScheduleAttempts != 5 || cfg.ScheduleDelay != 3*time.Second {
		t.Fatalf("unexpected schedule policy %d/%s", cfg.ScheduleAttempts, cfg.ScheduleDelay)
	}
	if cfg.Kube.Namespace != "default" || cfg.Kube.Host == "" {
		t.Fatalf("unexpected kube config %#v", cfg.Kube)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MountPath != "/sd/cache" {
		t.Fatalf("unexpected cache config %#v", cfg.Cache)
	}
	if cfg.Docker.Enabled {
		t.Fatalf("docker sidecar must default off")
	}
	if cfg.Prefix != "" {
		t.Fatalf("prefix must default empty, got %q", cfg.Prefix)
	}
}
