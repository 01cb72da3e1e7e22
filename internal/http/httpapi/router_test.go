package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qwenstudio/internal/http/handlers"
)

func TestRouterHealthAndMiddleware(t *testing.T) {
	router := NewRouter(&handlers.App{}, Options{AllowedOrigins: []string{"*"}, DefaultLocale: "en"})

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Accept-Language", "id-ID")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("Allow-Origin = %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if rr.Header().Get("Content-Language") != "id" {
		t.Fatalf("Content-Language = %q", rr.Header().Get("Content-Language"))
	}
}

func TestRouterProxyRequiresPrompt(t *testing.T) {
	router := NewRouter(&handlers.App{}, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/qwen/generate", strings.NewReader(`{"prompt":""}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRouterRateLimitsProxy(t *testing.T) {
	router := NewRouter(&handlers.App{}, Options{RateLimitPerMin: 1})
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/qwen/generate", strings.NewReader(`{}`))
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}
