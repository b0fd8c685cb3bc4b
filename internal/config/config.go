/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads operator tunables from the environment, following
// the NIO_-prefixed convention of the system this operator replaces.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable parameter read once at startup.
// ConfigReconcileInterval is read and reported by Summary only; the
// NixosConfiguration reconciler re-ticks every 2 minutes regardless.
type Config struct {
	WorkspaceBasePath        string
	KnownHostsPath           string
	FactsScanTimeout         time.Duration
	MachineDiscoveryInterval time.Duration
	ConfigReconcileInterval  time.Duration
	ApplyTimeout             time.Duration
	LogTailBytes             int

	RetryMaxAttempts         int
	RetryInitialDelay        time.Duration
	RetryMaxDelay            time.Duration
	RetryUnreachableMaxDelay time.Duration
	RetryExponentialBase     float64

	MaxConcurrentReconciles int

	MetricsBindAddress string
	HealthBindAddress  string
	LeaderElection     bool
	DevelopmentLogging bool
}

// Load builds a Config from the environment, applying defaults for anything
// unset. It never fails: malformed values silently fall back to defaults.
func Load() Config {
	return Config{
		WorkspaceBasePath:        getEnvString("NIO_WORKSPACE_BASE_PATH", defaultWorkspaceBase()),
		KnownHostsPath:           getEnvString("NIO_KNOWN_HOSTS_PATH", "/var/lib/nixos-infra-operator/known_hosts"),
		FactsScanTimeout:         getEnvDuration("NIO_HARDWARE_SCAN_TIMEOUT", 30*time.Second),
		MachineDiscoveryInterval: getEnvDuration("NIO_MACHINE_DISCOVERY_INTERVAL", 60*time.Second),
		ConfigReconcileInterval:  getEnvDuration("NIO_CONFIG_RECONCILE_INTERVAL", 120*time.Second),
		ApplyTimeout:             getEnvDuration("NIO_NIXOS_APPLY_TIMEOUT", 3600*time.Second),
		LogTailBytes:             getEnvInt("NIO_LOG_TAIL_BYTES", 16*1024),

		RetryMaxAttempts:         getEnvInt("NIO_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:        getEnvDuration("NIO_RETRY_INITIAL_DELAY", 2*time.Second),
		RetryMaxDelay:            getEnvDuration("NIO_RETRY_MAX_DELAY", 30*time.Second),
		RetryUnreachableMaxDelay: getEnvDuration("NIO_RETRY_UNREACHABLE_MAX_DELAY", 5*time.Minute),
		RetryExponentialBase:     getEnvFloat("NIO_RETRY_EXPONENTIAL_BASE", 2.0),

		MaxConcurrentReconciles: getEnvInt("NIO_MAX_CONCURRENT_RECONCILES", 5),

		MetricsBindAddress: getEnvString("METRICS_BIND_ADDRESS", ":8443"),
		HealthBindAddress:  getEnvString("HEALTH_BIND_ADDRESS", ":8081"),
		LeaderElection:     getEnvBool("ENABLE_LEADER_ELECTION", true),
		DevelopmentLogging: getEnvBool("NIO_DEV_LOGGING", false),
	}
}

// Summary renders a one-line, secret-free description of the active
// configuration, suitable for a startup log line.
func (c Config) Summary() string {
	return fmt.Sprintf(
		"workspace=%s knownHosts=%s discoveryInterval=%s reconcileInterval=%s applyTimeout=%s retry(max=%d,initial=%s,cap=%s,unreachableCap=%s,base=%.1f) maxConcurrentReconciles=%d leaderElection=%t",
		c.WorkspaceBasePath, c.KnownHostsPath, c.MachineDiscoveryInterval, c.ConfigReconcileInterval,
		c.ApplyTimeout, c.RetryMaxAttempts, c.RetryInitialDelay, c.RetryMaxDelay, c.RetryUnreachableMaxDelay, c.RetryExponentialBase,
		c.MaxConcurrentReconciles, c.LeaderElection,
	)
}

func defaultWorkspaceBase() string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm/nixos-infra-operator"
	}
	return os.TempDir()
}

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Fall back to the original implementation's bare-seconds convention.
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
