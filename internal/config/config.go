package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Google OAuth (Device Authorization Grant)
	GoogleClientID     string
	GoogleClientSecret string
	DeviceCodeURL      string
	TokenURL           string
	CalendarAPIURL     string

	// Credentials
	CredentialsKey      string
	CredentialsCount    int
	CredentialCacheSize int

	// Admin API
	AdminAPIKey string

	// Provider
	ProviderTimeout       time.Duration
	DefaultProvider       string
	AllowPrivateEndpoints bool

	// Draft
	DraftTTL           time.Duration
	DraftSweepInterval time.Duration

	// Tenant
	DefaultCalendarLimit int

	// Rate Limit (1分あたりのリクエスト数)
	RateLimitGeneral   int
	RateLimitAuthorize int

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"GOOGLE_CLIENT_ID", &cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret},
		{"CREDENTIALS_KEY", &cfg.CredentialsKey},
		{"ADMIN_API_KEY", &cfg.AdminAPIKey},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			missing = append(missing, r.key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DeviceCodeURL = getEnvString("DEVICE_CODE_URL", "https://oauth2.googleapis.com/device/code")
	cfg.TokenURL = getEnvString("TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.CalendarAPIURL = getEnvString("CALENDAR_API_URL", "https://www.googleapis.com/calendar/v3")
	cfg.CredentialsCount = getEnvInt("CREDENTIALS_COUNT", 1)
	cfg.CredentialCacheSize = getEnvInt("CREDENTIAL_CACHE_SIZE", 64)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.DefaultProvider = getEnvString("DEFAULT_PROVIDER", "GOOGLE")
	cfg.AllowPrivateEndpoints = getEnvBool("ALLOW_PRIVATE_ENDPOINTS", false)
	cfg.DraftTTL = getEnvDuration("DRAFT_TTL", 30*time.Minute)
	cfg.DraftSweepInterval = getEnvDuration("DRAFT_SWEEP_INTERVAL", 5*time.Minute)
	cfg.DefaultCalendarLimit = getEnvInt("DEFAULT_CALENDAR_LIMIT", 1)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuthorize = getEnvInt("RATE_LIMIT_AUTHORIZE", 5)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.CredentialsCount < 1 {
		return nil, fmt.Errorf("CREDENTIALS_COUNT must be >= 1, got %d", cfg.CredentialsCount)
	}
	if cfg.DefaultCalendarLimit < 0 {
		return nil, fmt.Errorf("DEFAULT_CALENDAR_LIMIT must be >= 0, got %d", cfg.DefaultCalendarLimit)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
