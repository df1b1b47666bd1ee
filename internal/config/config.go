// Package config reads the agent's environment-variable configuration.
// There is no required CLI flag: every knob has a workable default, the
// same "just run it" posture as the teacher's cmd/get and
// cmd/exporter_example* binaries.
package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	envLogLevel    = "MASDEEPFLOW_LOG_LEVEL"
	envCgroupPath  = "MASDEEPFLOW_CGROUP_PATH"
	envMetricsAddr = "MASDEEPFLOW_METRICS_ADDR"
	envSplice      = "MASDEEPFLOW_ENABLE_SPLICE"
)

const (
	defaultCgroupPath  = "/sys/fs/cgroup"
	defaultMetricsAddr = ":9469"
)

// Config is the agent's resolved runtime configuration.
type Config struct {
	LogLevel     logrus.Level
	CgroupPath   string
	MetricsAddr  string
	EnableSplice bool
}

// Load reads Config from the process environment, applying the same
// defaults the agent would use if left entirely unconfigured.
func Load() (Config, error) {
	level, err := logrus.ParseLevel(getenv(envLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}

	splice := true
	if v, ok := os.LookupEnv(envSplice); ok && v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, err
		}
		splice = parsed
	}

	return Config{
		LogLevel:     level,
		CgroupPath:   getenv(envCgroupPath, defaultCgroupPath),
		MetricsAddr:  getenv(envMetricsAddr, defaultMetricsAddr),
		EnableSplice: splice,
	}, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
