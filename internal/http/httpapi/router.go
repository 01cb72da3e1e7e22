package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"qwenstudio/internal/http/handlers"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/middleware"
)

// Options tunes the cross-cutting middleware.
type Options struct {
	Logger          *infra.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	limiter := middleware.NewRateLimiter(opts.RateLimitPerMin, time.Minute)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	// Browser facing DashScope proxy.
	r.Route("/api/qwen", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Post("/generate", app.ProxyGenerate)
		r.Get("/task/{taskId}", app.ProxyTask)
	})

	r.Route("/v1/generations", func(r chi.Router) {
		r.With(limiter.Handler).Post("/", app.GenerationsCreate)
		r.Get("/{id}", app.GenerationsGet)
		r.Get("/{id}/image", app.GenerationsImage)
		r.With(limiter.Handler).Post("/{id}/retry", app.GenerationsRetry)
		r.Delete("/{id}", app.GenerationsDelete)
	})

	r.Route("/v1/creations", func(r chi.Router) {
		r.Get("/", app.CreationsList)
		r.Get("/{id}/image", app.CreationImage)
	})

	return r
}
