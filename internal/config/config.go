// Package config loads service configuration.
//
// DESIGN: Environment-first. A .env file is loaded best-effort, then an
// optional YAML file named by TASKFLEET_CONFIG provides a base, and finally
// environment variables override individual fields. Both binaries share one
// Config so the auth and service-URL settings cannot drift apart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the gateway and analytics binaries need.
type Config struct {
	Server struct {
		GatewayPort   int           `yaml:"gateway_port"`
		AnalyticsPort int           `yaml:"analytics_port"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Auth struct {
		// JWTSecret signs and verifies end-user bearer tokens (HS256).
		JWTSecret string `yaml:"jwt_secret"`
		// ServiceToken is the shared secret trusted backends present to act
		// as the internal-service principal.
		ServiceToken string `yaml:"service_token"`
	} `yaml:"auth"`

	Services struct {
		UserServiceURL      string `yaml:"user_service_url"`
		TaskServiceURL      string `yaml:"task_service_url"`
		AnalyticsServiceURL string `yaml:"analytics_service_url"`
	} `yaml:"services"`

	Cache struct {
		DBPath           string        `yaml:"db_path"`
		UserStatsTTL     time.Duration `yaml:"user_stats_ttl"`
		SystemSummaryTTL time.Duration `yaml:"system_summary_ttl"`
		FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	} `yaml:"cache"`

	Proxy struct {
		Timeout            time.Duration `yaml:"timeout"`
		HealthProbeTimeout time.Duration `yaml:"health_probe_timeout"`
	} `yaml:"proxy"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	LogLevel string `yaml:"log_level"`
}

// Load builds a Config from defaults, the optional YAML file, and env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("TASKFLEET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Auth.ServiceToken == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN is required")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.GatewayPort = DefaultGatewayPort
	cfg.Server.AnalyticsPort = DefaultAnalyticsPort
	cfg.Server.ReadTimeout = DefaultServerReadTimeout
	cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	cfg.Services.UserServiceURL = DefaultUserServiceURL
	cfg.Services.TaskServiceURL = DefaultTaskServiceURL
	cfg.Services.AnalyticsServiceURL = DefaultAnalyticsServiceURL
	cfg.Cache.DBPath = DefaultStatsDBPath
	cfg.Cache.UserStatsTTL = DefaultUserStatsTTL
	cfg.Cache.SystemSummaryTTL = DefaultSystemSummaryTTL
	cfg.Cache.FetchTimeout = DefaultUpstreamFetchTimeout
	cfg.Proxy.Timeout = DefaultProxyTimeout
	cfg.Proxy.HealthProbeTimeout = DefaultHealthProbeTimeout
	cfg.RateLimit.PerSecond = DefaultRateLimitPerSecond
	cfg.RateLimit.Burst = DefaultRateLimitBurst
	cfg.LogLevel = "info"
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.ServiceToken, "SERVICE_TOKEN")
	setString(&cfg.Services.UserServiceURL, "USER_SERVICE_URL")
	setString(&cfg.Services.TaskServiceURL, "TASK_SERVICE_URL")
	setString(&cfg.Services.AnalyticsServiceURL, "ANALYTICS_SERVICE_URL")
	setString(&cfg.Cache.DBPath, "ANALYTICS_DB_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setInt(&cfg.Server.GatewayPort, "GATEWAY_PORT")
	setInt(&cfg.Server.AnalyticsPort, "ANALYTICS_PORT")
	setInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST")

	setDuration(&cfg.Cache.UserStatsTTL, "USER_STATS_TTL")
	setDuration(&cfg.Cache.SystemSummaryTTL, "SYSTEM_SUMMARY_TTL")
	setDuration(&cfg.Cache.FetchTimeout, "UPSTREAM_FETCH_TIMEOUT")
	setDuration(&cfg.Proxy.Timeout, "PROXY_TIMEOUT")
	setDuration(&cfg.Proxy.HealthProbeTimeout, "HEALTH_PROBE_TIMEOUT")

	setFloat(&cfg.RateLimit.PerSecond, "RATE_LIMIT_RPS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
