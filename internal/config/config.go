package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "JOTTER"
	defaultHTTPAddress     = "0.0.0.0:5000"
	defaultDatabaseDriver  = DatabaseDriverSQLite
	defaultDatabasePath    = "jotter.db"
	defaultTokenTTLMinutes = 7 * 24 * 60
	defaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOTPBackend      = OTPBackendMemory
	defaultRedisAddress    = "127.0.0.1:6379"
	defaultSMTPPort        = 587
	defaultAuthRateLimit   = 10
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported one-time-code store backends.
const (
	OTPBackendMemory = "memory"
	OTPBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	CORSOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	SigningSecret string
	TokenTTL      time.Duration

	GoogleClientID              string
	GoogleJWKSURL               string
	GoogleTrustClientAssertions bool

	OTPBackend    string
	OTPTTL        time.Duration
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	SMTP SMTPConfig

	AuthRequestsPerMinute int
	OTLPEndpoint          string

	LogLevel  string
	LogFormat string
}

// SMTPConfig holds outbound mail settings used for one-time-code delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.cors_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("google.client_id", "")
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("google.trust_client_assertions", false)
	configViper.SetDefault("otp.backend", defaultOTPBackend)
	configViper.SetDefault("otp.ttl", time.Duration(0))
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("smtp.host", "")
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.username", "")
	configViper.SetDefault("smtp.password", "")
	configViper.SetDefault("smtp.from", "")
	configViper.SetDefault("ratelimit.auth_per_minute", defaultAuthRateLimit)
	configViper.SetDefault("telemetry.otlp_endpoint", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:                 configViper.GetString("http.address"),
		CORSOrigins:                 splitList(configViper.GetStringSlice("http.cors_origins")),
		DatabaseDriver:              strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:                configViper.GetString("database.path"),
		DatabaseDSN:                 configViper.GetString("database.dsn"),
		SigningSecret:               configViper.GetString("auth.signing_secret"),
		TokenTTL:                    time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GoogleClientID:              strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:               strings.TrimSpace(configViper.GetString("google.jwks_url")),
		GoogleTrustClientAssertions: configViper.GetBool("google.trust_client_assertions"),
		OTPBackend:                  strings.ToLower(strings.TrimSpace(configViper.GetString("otp.backend"))),
		OTPTTL:                      configViper.GetDuration("otp.ttl"),
		RedisAddress:                configViper.GetString("redis.address"),
		RedisPassword:               configViper.GetString("redis.password"),
		RedisDB:                     configViper.GetInt("redis.db"),
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(configViper.GetString("smtp.host")),
			Port:     configViper.GetInt("smtp.port"),
			Username: configViper.GetString("smtp.username"),
			Password: configViper.GetString("smtp.password"),
			From:     strings.TrimSpace(configViper.GetString("smtp.from")),
		},
		AuthRequestsPerMinute: configViper.GetInt("ratelimit.auth_per_minute"),
		OTLPEndpoint:          strings.TrimSpace(configViper.GetString("telemetry.otlp_endpoint")),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	switch c.OTPBackend {
	case OTPBackendMemory:
	case OTPBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis otp backend")
		}
	default:
		return fmt.Errorf("unsupported otp.backend %q", c.OTPBackend)
	}
	if c.OTPTTL < 0 {
		return fmt.Errorf("otp.ttl must not be negative")
	}
	if c.GoogleClientID != "" && c.GoogleJWKSURL == "" {
		return fmt.Errorf("google.jwks_url is required when google.client_id is set")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	if c.AuthRequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.auth_per_minute must be positive")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated env value.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
