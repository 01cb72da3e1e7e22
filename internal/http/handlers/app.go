package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"qwenstudio/internal/domain"
	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
	"qwenstudio/internal/middleware"
	"qwenstudio/internal/providers/qwen"
	"qwenstudio/internal/session"
	"qwenstudio/internal/storage"
)

// QwenProxy is the part of the DashScope client the proxy endpoints need.
type QwenProxy interface {
	HasCredentials() bool
	BuildGenerationBody(prompt string, opts imagegen.GenerationOptions) ([]byte, error)
	ForwardGeneration(ctx context.Context, body []byte) (*qwen.RawResponse, error)
	ForwardTask(ctx context.Context, taskID string) (*qwen.RawResponse, error)
}

// App holds the dependencies shared by every handler. Creations and Store
// are optional.
type App struct {
	Logger    *infra.Logger
	Qwen      QwenProxy
	Sessions  *session.Manager
	Creations domain.CreationRepository
	Store     storage.Store
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes {"error": code, "message": message} with message localized
// for the request.
func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	tr := NewTranslator(middleware.LocaleFromContext(r.Context()))
	a.json(w, status, map[string]string{"error": code, "message": tr.T(message)})
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}
