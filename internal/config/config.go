package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kcgate/kcgate/internal/policy"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	Auth      AuthConfig
	Authz     AuthzConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured.
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// Addr is host:port, defaulting the port to 6379.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

type KeycloakConfig struct {
	URL               string
	Realm             string
	Issuer            string
	ClientID          string
	ClientSecret      string
	AdminClientID     string
	AdminClientSecret string
	Timeout           time.Duration
}

type AuthConfig struct {
	Audience          string
	ValidateAudience  bool
	ValidateIssuer    bool
	ValidateLifetime  bool
	ValidateSignature bool
	KeyRefresh        time.Duration
}

type AuthzConfig struct {
	// Policies is the merged result of the defaults, AUTHZ_POLICY_FILE and AUTHZ_POLICIES.
	Policies map[string][]string
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KEYCLOAK_TIMEOUT_SECONDS", 10)
	v.SetDefault("AUTH_VALIDATE_AUDIENCE", false)
	v.SetDefault("AUTH_VALIDATE_ISSUER", true)
	v.SetDefault("AUTH_VALIDATE_LIFETIME", true)
	v.SetDefault("AUTH_VALIDATE_SIGNATURE", true)
	v.SetDefault("AUTH_KEY_REFRESH_MINUTES", 0)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	kcURL := strings.TrimRight(v.GetString("KEYCLOAK_URL"), "/")
	realm := v.GetString("KEYCLOAK_REALM")
	if kcURL == "" || realm == "" {
		return nil, fmt.Errorf("KEYCLOAK_URL and KEYCLOAK_REALM are required")
	}
	issuer := v.GetString("KEYCLOAK_ISSUER")
	if issuer == "" {
		issuer = kcURL + "/realms/" + realm
	}
	clientID := v.GetString("KEYCLOAK_CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("KEYCLOAK_CLIENT_ID is required")
	}
	clientSecret := v.GetString("KEYCLOAK_CLIENT_SECRET")
	adminID := v.GetString("KEYCLOAK_ADMIN_CLIENT_ID")
	adminSecret := v.GetString("KEYCLOAK_ADMIN_CLIENT_SECRET")
	if adminID == "" {
		adminID, adminSecret = clientID, clientSecret
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: v.GetString("LOG_LEVEL")},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:               kcURL,
			Realm:             realm,
			Issuer:            issuer,
			ClientID:          clientID,
			ClientSecret:      clientSecret,
			AdminClientID:     adminID,
			AdminClientSecret: adminSecret,
			Timeout:           time.Duration(v.GetInt("KEYCLOAK_TIMEOUT_SECONDS")) * time.Second,
		},
		Auth: AuthConfig{
			Audience:          v.GetString("AUTH_AUDIENCE"),
			ValidateAudience:  v.GetBool("AUTH_VALIDATE_AUDIENCE"),
			ValidateIssuer:    v.GetBool("AUTH_VALIDATE_ISSUER"),
			ValidateLifetime:  v.GetBool("AUTH_VALIDATE_LIFETIME"),
			ValidateSignature: v.GetBool("AUTH_VALIDATE_SIGNATURE"),
			KeyRefresh:        time.Duration(v.GetInt("AUTH_KEY_REFRESH_MINUTES")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			UseRedis: v.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   time.Duration(v.GetInt("RATE_LIMIT_WINDOW_SECONDS")) * time.Second,
		},
	}

	if cfg.Auth.ValidateAudience && cfg.Auth.Audience == "" {
		return nil, fmt.Errorf("AUTH_VALIDATE_AUDIENCE is set but AUTH_AUDIENCE is empty")
	}

	policies, err := policy.Resolve(v.GetString("AUTHZ_POLICY_FILE"), v.GetString("AUTHZ_POLICIES"))
	if err != nil {
		return nil, fmt.Errorf("authorization policies: %w", err)
	}
	cfg.Authz.Policies = policies

	return cfg, nil
}
