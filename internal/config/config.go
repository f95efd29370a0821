/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ExecutorBackend selects how the controller reaches the instrument executor.
type ExecutorBackend string

const (
	ExecutorNATS  ExecutorBackend = "nats"
	ExecutorLocal ExecutorBackend = "local"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string
	LogLevel      string // overrides the environment default when set
	LogFormat     string // "console" or "json"

	// Observatory bus. Collaborators are bound by subject name at startup.
	NATSURL         string
	NATSToken       string
	ExecutorBackend ExecutorBackend
	ExecutorSubject string
	SiteSubject     string
	SeeingSubject   string // empty disables the seeing gate
	BusTimeout      time.Duration

	// SiteLongitude is the observatory's east longitude in degrees. Cached
	// ephemeris nights start at local mean noon there.
	SiteLongitude float64

	// Scheduling
	Backoff      time.Duration // wait after consecutive empty selections
	ProbeSamples int           // slots probed when pulling a start time earlier
	TimedGrace   time.Duration // how late a fixed-time program may still start
	ParkAlt      float64
	ParkAz       float64
	AutoStart    bool // switch rob state on at boot

	// Observing log export
	ExportDir         string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Ceph)
	S3UsePathStyle    bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	CacheEnabled          bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"ROBOBS_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"ROBOBS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"ROBOBS_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"ROBOBS_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:         getEnvAny([]string{"ROBOBS_DB_DSN"}, ""),
		JWTSigningKey: getEnvAny([]string{"ROBOBS_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"ROBOBS_METRICS_BIND"}, "127.0.0.1:9000"),
		LogLevel:      getEnvAny([]string{"ROBOBS_LOG_LEVEL", "LOG_LEVEL"}, ""),
		LogFormat:     getEnvAny([]string{"ROBOBS_LOG_FORMAT"}, "console"),

		NATSURL:         getEnvAny([]string{"ROBOBS_NATS_URL", "NATS_URL"}, "nats://127.0.0.1:4222"),
		NATSToken:       getEnvAny([]string{"ROBOBS_NATS_TOKEN", "NATS_TOKEN"}, ""),
		ExecutorBackend: ExecutorBackend(getEnvAny([]string{"ROBOBS_EXECUTOR_BACKEND"}, string(ExecutorNATS))),
		ExecutorSubject: getEnvAny([]string{"ROBOBS_EXECUTOR_SUBJECT"}, "chimera.scheduler"),
		SiteSubject:     getEnvAny([]string{"ROBOBS_SITE_SUBJECT"}, "chimera.site"),
		SeeingSubject:   getEnvAny([]string{"ROBOBS_SEEING_SUBJECT"}, ""),
		BusTimeout:      time.Duration(getEnvIntAny([]string{"ROBOBS_BUS_TIMEOUT_SECONDS"}, 10)) * time.Second,
		SiteLongitude:   getEnvFloatAny([]string{"ROBOBS_SITE_LONGITUDE"}, 0),

		Backoff:      time.Duration(getEnvIntAny([]string{"ROBOBS_BACKOFF_SECONDS"}, 300)) * time.Second,
		ProbeSamples: getEnvIntAny([]string{"ROBOBS_PROBE_SAMPLES"}, 50),
		TimedGrace:   time.Duration(getEnvIntAny([]string{"ROBOBS_TIMED_GRACE_SECONDS"}, 300)) * time.Second,
		ParkAlt:      getEnvFloatAny([]string{"ROBOBS_PARK_ALT"}, 88),
		ParkAz:       getEnvFloatAny([]string{"ROBOBS_PARK_AZ"}, 89),
		AutoStart:    getEnvBoolAny([]string{"ROBOBS_AUTO_START"}, false),

		ExportDir:         getEnvAny([]string{"ROBOBS_EXPORT_DIR"}, "./exports"),
		S3AccessKeyID:     getEnvAny([]string{"ROBOBS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"ROBOBS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"ROBOBS_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"ROBOBS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"ROBOBS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"ROBOBS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBoolAny([]string{"ROBOBS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"ROBOBS_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"ROBOBS_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"ROBOBS_LEADER_ELECTION_ENABLED"}, false),
		CacheEnabled:          getEnvBoolAny([]string{"ROBOBS_CACHE_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"ROBOBS_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"ROBOBS_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"ROBOBS_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"ROBOBS_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("ROBOBS_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("ROBOBS_JWT_SIGNING_KEY must be provided")
	}

	if cfg.ExecutorBackend != ExecutorNATS && cfg.ExecutorBackend != ExecutorLocal {
		return nil, fmt.Errorf("unsupported executor backend %q", cfg.ExecutorBackend)
	}

	if cfg.Backoff <= 0 {
		return nil, fmt.Errorf("ROBOBS_BACKOFF_SECONDS must be positive")
	}

	if cfg.ProbeSamples < 2 {
		return nil, fmt.Errorf("ROBOBS_PROBE_SAMPLES must be at least 2")
	}

	if cfg.ParkAlt <= 0 || cfg.ParkAlt > 90 {
		return nil, fmt.Errorf("ROBOBS_PARK_ALT must be in (0, 90]")
	}

	if cfg.SiteLongitude < -180 || cfg.SiteLongitude > 180 {
		return nil, fmt.Errorf("ROBOBS_SITE_LONGITUDE must be in [-180, 180]")
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("ROBOBS_LOG_FORMAT must be console or json")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.ExecutorBackend == ExecutorLocal {
		return nil, fmt.Errorf("the local executor simulator cannot be used in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"CHIMERA_HOST":       "bind the site with ROBOBS_SITE_SUBJECT",
		"CHIMERA_PORT":       "bind the site with ROBOBS_SITE_SUBJECT",
		"ROBOBS_SEEING_NAME": "use ROBOBS_SEEING_SUBJECT",
		"ROBOBS_SLEEP":       "use ROBOBS_BACKOFF_SECONDS",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address of the control API.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// ExportToS3 reports whether observing-log exports go to object storage.
func (c *Config) ExportToS3() bool {
	return c != nil && c.S3Bucket != ""
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
