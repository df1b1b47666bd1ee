package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{envLogLevel, envCgroupPath, envMetricsAddr, envSplice} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != logrus.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.CgroupPath != defaultCgroupPath {
		t.Errorf("CgroupPath = %q, want %q", cfg.CgroupPath, defaultCgroupPath)
	}
	if cfg.MetricsAddr != defaultMetricsAddr {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, defaultMetricsAddr)
	}
	if !cfg.EnableSplice {
		t.Error("EnableSplice should default to true")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envCgroupPath, "/custom/cgroup")
	t.Setenv(envMetricsAddr, ":9999")
	t.Setenv(envSplice, "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != logrus.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.CgroupPath != "/custom/cgroup" {
		t.Errorf("CgroupPath = %q", cfg.CgroupPath)
	}
	if cfg.EnableSplice {
		t.Error("EnableSplice should be false")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv(envLogLevel, "not-a-level")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
