package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults 環境変数未設定時のデフォルト値
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "SERVER_PORT", "ENV", "ALLOWED_ORIGINS", "USE_MOCK_ML",
		"ML_SERVICE_URL", "ANALYSIS_TIMEOUT", "MODERATION_TIMEOUT", "RATE_LIMIT_MAX_REQUESTS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "3306", cfg.DBPort)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.AllowedOrigins)
	assert.True(t, cfg.UseMockAnalyzer)
	assert.Equal(t, "http://localhost:8000", cfg.AnalysisServiceURL)
	assert.Equal(t, 10*time.Second, cfg.AnalysisTimeout)
	assert.Equal(t, 24*time.Hour, cfg.ModerationTimeout)
	assert.Equal(t, 100, cfg.RateLimitMaxRequests)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.UseDatabase())
}

// TestLoad_Overrides 環境変数による上書き
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_NAME", "safechat")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , http://b.example")
	t.Setenv("USE_MOCK_ML", "false")
	t.Setenv("ML_SERVICE_URL", "http://ml:8000/")
	t.Setenv("ANALYSIS_TIMEOUT", "250ms")
	t.Setenv("MODERATION_TIMEOUT", "1h")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")

	cfg := Load()

	assert.True(t, cfg.UseDatabase())
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.UseMockAnalyzer)
	assert.Equal(t, "http://ml:8000", cfg.AnalysisServiceURL)
	assert.Equal(t, 250*time.Millisecond, cfg.AnalysisTimeout)
	assert.Equal(t, time.Hour, cfg.ModerationTimeout)
	assert.Equal(t, 5, cfg.RateLimitMaxRequests)
}

// TestLoad_InvalidValuesFallBack 不正な値はデフォルトに戻る
func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ANALYSIS_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "-3")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.AnalysisTimeout)
	assert.Equal(t, 100, cfg.RateLimitMaxRequests)
}
