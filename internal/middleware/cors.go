package middleware

import "net/http"

const (
	corsAllowHeaders  = "Content-Type, X-Locale, X-Request-ID"
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS"
	corsExposeHeaders = "X-Request-ID, Content-Language, Retry-After"
	corsMaxAge        = "600"
)

type originPolicy struct {
	any    bool
	listed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{listed: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		if origin == "*" {
			p.any = true
			continue
		}
		p.listed[origin] = struct{}{}
	}
	return p
}

// CORS lets browsers on the allowed origins call the API. Listed origins are
// echoed with credentials; a "*" entry admits any other origin without them.
// Preflight requests are answered here and never reach the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			admitted := false
			if origin != "" {
				if _, ok := policy.listed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					admitted = true
				} else if policy.any {
					h.Set("Access-Control-Allow-Origin", "*")
					admitted = true
				}
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				if admitted {
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if admitted {
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}
