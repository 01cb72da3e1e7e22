package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
		wantCreds  string
	}{
		{name: "listed origin", allowed: []string{"https://app.example.com"}, origin: "https://app.example.com", wantOrigin: "https://app.example.com", wantCreds: "true"},
		{name: "unlisted origin", allowed: []string{"https://app.example.com"}, origin: "https://evil.example.com"},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://any.example.com", wantOrigin: "*"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := CORS(tc.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tc.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("Allow-Origin = %q, want %q", got, tc.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != tc.wantCreds {
				t.Fatalf("Allow-Credentials = %q, want %q", got, tc.wantCreds)
			}
			exposed := rr.Header().Get("Access-Control-Expose-Headers") != ""
			if exposed != (tc.wantOrigin != "") {
				t.Fatalf("Expose-Headers set = %v for origin %q", exposed, tc.wantOrigin)
			}
		})
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	handler := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/generations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Fatal("preflight reached the handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") != corsAllowMethods {
		t.Fatalf("Allow-Methods = %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
	if rr.Header().Get("Access-Control-Max-Age") != corsMaxAge {
		t.Fatalf("Max-Age = %q", rr.Header().Get("Access-Control-Max-Age"))
	}
}

func TestCORSPlainOptionsPassesThrough(t *testing.T) {
	called := false
	handler := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodOptions, "/v1/healthz", nil))
	if !called {
		t.Fatal("OPTIONS without a preflight header did not reach the handler")
	}
}
