package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DASHSCOPE_REGION", "")
	t.Setenv("DASHSCOPE_BASE_URL", "")
	t.Setenv("POLL_INTERVAL_MS", "")
	t.Setenv("RETRY_MAX", "")
	t.Setenv("RETRY_MULTIPLIER", "")
	t.Setenv("MINIO_ENDPOINT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DashScopeBaseURL != "https://dashscope.aliyuncs.com/api/v1" {
		t.Fatalf("DashScopeBaseURL = %q", cfg.DashScopeBaseURL)
	}
	if cfg.DashScopeModel != "qwen-image-plus" {
		t.Fatalf("DashScopeModel = %q", cfg.DashScopeModel)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.RetryMax != 3 || cfg.RetryInitialDelay != 2*time.Second || cfg.RetryMultiplier != 1.5 {
		t.Fatalf("retry settings = %d %v %v", cfg.RetryMax, cfg.RetryInitialDelay, cfg.RetryMultiplier)
	}
	if cfg.SessionIdleTTL != 30*time.Minute {
		t.Fatalf("SessionIdleTTL = %v, want 30m", cfg.SessionIdleTTL)
	}
}

func TestLoadConfigRegionSelectsBaseURL(t *testing.T) {
	t.Setenv("DASHSCOPE_BASE_URL", "")
	t.Setenv("DASHSCOPE_REGION", "Singapore")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DashScopeBaseURL != "https://dashscope-intl.aliyuncs.com/api/v1" {
		t.Fatalf("DashScopeBaseURL = %q", cfg.DashScopeBaseURL)
	}
}

func TestLoadConfigHonorsExplicitBaseURL(t *testing.T) {
	t.Setenv("DASHSCOPE_REGION", "singapore")
	t.Setenv("DASHSCOPE_BASE_URL", "http://localhost:9000/api/v1/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DashScopeBaseURL != "http://localhost:9000/api/v1" {
		t.Fatalf("DashScopeBaseURL = %q", cfg.DashScopeBaseURL)
	}
}

func TestLoadConfigParsesLists(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSAllowedOrigins) != len(expected) {
		t.Fatalf("CORSAllowedOrigins mismatch: got %#v want %#v", cfg.CORSAllowedOrigins, expected)
	}
	for i, origin := range expected {
		if cfg.CORSAllowedOrigins[i] != origin {
			t.Fatalf("CORSAllowedOrigins[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], origin)
		}
	}
}

func TestLoadConfigRejectsInvalidRetrySettings(t *testing.T) {
	t.Setenv("RETRY_MULTIPLIER", "0.5")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for multiplier below 1")
	}
}

func TestLoadConfigRequiresBucketWithMinio(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_BUCKET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when bucket is missing")
	}
}

func TestDashScopeEndpointUsesStoredRegion(t *testing.T) {
	t.Setenv("DASHSCOPE_BASE_URL", "")
	t.Setenv("DASHSCOPE_REGION", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got := cfg.DashScopeEndpoint("Singapore"); got != "https://dashscope-intl.aliyuncs.com/api/v1" {
		t.Fatalf("endpoint for stored singapore key = %q", got)
	}
	if got := cfg.DashScopeEndpoint(""); got != "https://dashscope.aliyuncs.com/api/v1" {
		t.Fatalf("endpoint without region = %q", got)
	}

	t.Setenv("DASHSCOPE_REGION", "beijing")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got := cfg.DashScopeEndpoint("singapore"); got != "https://dashscope.aliyuncs.com/api/v1" {
		t.Fatalf("configured region should win, got %q", got)
	}
}
