package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"qwenstudio/internal/domain"
	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/middleware"
	"qwenstudio/internal/session"
)

type generationRequest struct {
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	PromptExtend *bool  `json:"prompt_extend"`
	Watermark    bool   `json:"watermark"`
}

type generationResponse struct {
	ID         string                      `json:"id"`
	Prompt     string                      `json:"prompt,omitempty"`
	Options    *imagegen.GenerationOptions `json:"options,omitempty"`
	Status     imagegen.Status             `json:"status"`
	ImageURL   *string                     `json:"image_url"`
	TaskID     *string                     `json:"task_id"`
	Error      *imagegen.ParsedError       `json:"error"`
	CanRetry   bool                        `json:"can_retry"`
	StorageKey string                      `json:"storage_key,omitempty"`
	CreationID string                      `json:"creation_id,omitempty"`
}

// GenerationsCreate opens a generation session and answers with its pending
// snapshot.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", "Prompt is required")
		return
	}
	size, err := imagegen.ParseSize(req.Size)
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "Unsupported image size")
		return
	}
	opts := imagegen.DefaultGenerationOptions()
	opts.Size = size
	opts.Watermark = req.Watermark
	if req.PromptExtend != nil {
		opts.PromptExtend = *req.PromptExtend
	}

	snap, err := a.Sessions.Start(r.Context(), req.Prompt, opts)
	if errors.Is(err, domain.ErrInvalidPrompt) {
		a.error(w, r, http.StatusBadRequest, "bad_request", "Prompt is required")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Msg("generations: start failed")
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "An unexpected error occurred")
		return
	}
	a.json(w, http.StatusAccepted, a.present(r, snap))
}

// GenerationsGet returns the latest snapshot of a session.
func (a *App) GenerationsGet(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if !a.sessionOK(w, r, err) {
		return
	}
	a.json(w, http.StatusOK, a.present(r, snap))
}

// GenerationsRetry re-runs the last prompt of a settled session.
func (a *App) GenerationsRetry(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Sessions.Retry(r.Context(), chi.URLParam(r, "id"))
	if !a.sessionOK(w, r, err) {
		return
	}
	a.json(w, http.StatusAccepted, a.present(r, snap))
}

// GenerationsDelete stops a session and forgets it.
func (a *App) GenerationsDelete(w http.ResponseWriter, r *http.Request) {
	if !a.sessionOK(w, r, a.Sessions.Delete(r.Context(), chi.URLParam(r, "id"))) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerationsImage serves the mirrored image of a succeeded session.
func (a *App) GenerationsImage(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if !a.sessionOK(w, r, err) {
		return
	}
	if a.Store == nil || snap.StorageKey == "" {
		a.error(w, r, http.StatusNotFound, "not_found", "Generation not found")
		return
	}
	data, contentType, err := a.Store.Get(r.Context(), snap.StorageKey)
	if err != nil {
		a.logger().Warn().Err(err).Str("storage_key", snap.StorageKey).Msg("generations: read image failed")
		a.error(w, r, http.StatusNotFound, "not_found", "Generation not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) sessionOK(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", "Generation not found")
	case errors.Is(err, session.ErrBusy):
		a.error(w, r, http.StatusConflict, "conflict", "Generation is still in progress")
	default:
		a.logger().Error().Err(err).Msg("generations: session lookup failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred")
	}
	return false
}

func (a *App) present(r *http.Request, snap session.Snapshot) generationResponse {
	tr := NewTranslator(middleware.LocaleFromContext(r.Context()))
	resp := generationResponse{
		ID:         snap.ID,
		Prompt:     snap.Prompt,
		Status:     snap.State.Status,
		ImageURL:   optional(snap.State.ImageURL),
		TaskID:     optional(snap.State.TaskID),
		Error:      tr.Error(snap.State.Error),
		CanRetry:   snap.Local && snap.State.Status == imagegen.StatusFailed,
		StorageKey: snap.StorageKey,
		CreationID: snap.CreationID,
	}
	if snap.Local {
		opts := snap.Options
		resp.Options = &opts
	}
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
