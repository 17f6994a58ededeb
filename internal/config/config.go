package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// MariaDB接続設定
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// サーバー設定
	ServerPort string
	Env        string

	// CORS設定
	AllowedOrigins []string

	// 解析エンジン設定
	UseMockAnalyzer    bool
	AnalysisServiceURL string
	AnalysisTimeout    time.Duration

	// モデレーション設定
	ModerationTimeout    time.Duration
	TimeoutSweepInterval time.Duration

	// レート制限 (メッセージ投稿)
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	// ログ設定
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() Config {
	allowedOrigins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")

	cfg := Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		Env:        getEnv("ENV", "development"),

		AllowedOrigins: strings.Split(allowedOrigins, ","),

		// USE_MOCK_ML=false の場合のみ外部解析サービスを使う
		UseMockAnalyzer:    os.Getenv("USE_MOCK_ML") != "false",
		AnalysisServiceURL: strings.TrimRight(getEnv("ML_SERVICE_URL", "http://localhost:8000"), "/"),
		AnalysisTimeout:    getDuration("ANALYSIS_TIMEOUT", 10*time.Second),

		ModerationTimeout:    getDuration("MODERATION_TIMEOUT", 24*time.Hour),
		TimeoutSweepInterval: getDuration("TIMEOUT_SWEEP_INTERVAL", time.Minute),

		RateLimitWindow:      getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMaxRequests: getInt("RATE_LIMIT_MAX_REQUESTS", 100),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}

// UseDatabase reports whether a MariaDB database is configured.
// DB_NAME が未設定ならインメモリストアで起動する
func (c Config) UseDatabase() bool {
	return c.DBName != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
