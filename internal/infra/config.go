package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	dashScopeChinaBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	dashScopeIntlBaseURL  = "https://dashscope-intl.aliyuncs.com/api/v1"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	Host     string
	Port     string
	LogLevel string

	DashScopeAPIKey  string
	DashScopeRegion  string
	DashScopeBaseURL string
	DashScopeModel   string
	DashScopeTimeout time.Duration
	explicitBaseURL  string

	DatabaseURL string
	DBMaxConns  int32
	StoragePath string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool

	RedisAddr    string
	AMQPURL      string
	AMQPExchange string

	GeoIPDBPath        string
	CORSAllowedOrigins []string
	RateLimitPerMin    int

	PollInterval      time.Duration
	RetryMax          int
	RetryInitialDelay time.Duration
	RetryMultiplier   float64
	SessionIdleTTL    time.Duration

	HTTPReadTimeout     time.Duration
	HTTPWriteTimeout    time.Duration
	HTTPIdleTimeout     time.Duration
	HTTPShutdownTimeout time.Duration
}

// LoadConfig reads .env files when present, then environment variables, and
// applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppEnv:              v.GetString("APP_ENV"),
		Host:                v.GetString("HOST"),
		Port:                v.GetString("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		DashScopeAPIKey:     strings.TrimSpace(v.GetString("DASHSCOPE_API_KEY")),
		DashScopeRegion:     strings.ToLower(strings.TrimSpace(v.GetString("DASHSCOPE_REGION"))),
		DashScopeModel:      v.GetString("DASHSCOPE_MODEL"),
		DashScopeTimeout:    time.Second * time.Duration(v.GetInt("DASHSCOPE_TIMEOUT_SECONDS")),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBMaxConns:          v.GetInt32("DB_MAX_CONNS"),
		StoragePath:         v.GetString("STORAGE_PATH"),
		MinioEndpoint:       v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:      v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:      v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:         v.GetString("MINIO_BUCKET"),
		MinioSecure:         v.GetBool("MINIO_SECURE"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		AMQPURL:             v.GetString("AMQP_URL"),
		AMQPExchange:        v.GetString("AMQP_EXCHANGE"),
		GeoIPDBPath:         v.GetString("GEOIP_DB_PATH"),
		CORSAllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitPerMin:     v.GetInt("RATE_LIMIT_PER_MINUTE"),
		PollInterval:        time.Millisecond * time.Duration(v.GetInt("POLL_INTERVAL_MS")),
		RetryMax:            v.GetInt("RETRY_MAX"),
		RetryInitialDelay:   time.Millisecond * time.Duration(v.GetInt("RETRY_INITIAL_DELAY_MS")),
		RetryMultiplier:     v.GetFloat64("RETRY_MULTIPLIER"),
		SessionIdleTTL:      time.Minute * time.Duration(v.GetInt("SESSION_IDLE_TTL_MINUTES")),
		HTTPReadTimeout:     time.Second * time.Duration(v.GetInt("HTTP_READ_TIMEOUT_SECONDS")),
		HTTPWriteTimeout:    time.Second * time.Duration(v.GetInt("HTTP_WRITE_TIMEOUT_SECONDS")),
		HTTPIdleTimeout:     time.Second * time.Duration(v.GetInt("HTTP_IDLE_TIMEOUT_SECONDS")),
		HTTPShutdownTimeout: time.Second * time.Duration(v.GetInt("HTTP_SHUTDOWN_TIMEOUT_SECONDS")),
	}
	cfg.explicitBaseURL = strings.TrimSpace(v.GetString("DASHSCOPE_BASE_URL"))
	cfg.DashScopeBaseURL = resolveDashScopeBaseURL(cfg.explicitBaseURL, cfg.DashScopeRegion)

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("RETRY_MAX must not be negative")
	}
	if cfg.RetryMultiplier < 1 {
		return nil, fmt.Errorf("RETRY_MULTIPLIER must be at least 1")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return nil, fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DASHSCOPE_MODEL", "qwen-image-plus")
	v.SetDefault("DASHSCOPE_TIMEOUT_SECONDS", 60)
	v.SetDefault("STORAGE_PATH", "./storage")
	v.SetDefault("MINIO_SECURE", true)
	v.SetDefault("AMQP_EXCHANGE", "qwenstudio.generations")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("POLL_INTERVAL_MS", 5000)
	v.SetDefault("RETRY_MAX", 3)
	v.SetDefault("RETRY_INITIAL_DELAY_MS", 2000)
	v.SetDefault("RETRY_MULTIPLIER", 1.5)
	v.SetDefault("SESSION_IDLE_TTL_MINUTES", 30)
	v.SetDefault("HTTP_READ_TIMEOUT_SECONDS", 15)
	v.SetDefault("HTTP_WRITE_TIMEOUT_SECONDS", 30)
	v.SetDefault("HTTP_IDLE_TIMEOUT_SECONDS", 60)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 15)
}

// DashScopeEndpoint returns the API base URL. When neither DASHSCOPE_BASE_URL
// nor DASHSCOPE_REGION is set, storedRegion (the region a stored key was
// issued for) picks the endpoint.
func (c *Config) DashScopeEndpoint(storedRegion string) string {
	if c.explicitBaseURL != "" || c.DashScopeRegion != "" {
		return c.DashScopeBaseURL
	}
	return resolveDashScopeBaseURL("", strings.ToLower(strings.TrimSpace(storedRegion)))
}

// resolveDashScopeBaseURL prefers an explicit URL; otherwise the Singapore
// region uses the international endpoint and everything else mainland China.
func resolveDashScopeBaseURL(explicit, region string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	if region == "singapore" {
		return dashScopeIntlBaseURL
	}
	return dashScopeChinaBaseURL
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
