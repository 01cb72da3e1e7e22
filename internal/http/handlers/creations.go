package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"qwenstudio/internal/domain"
	"qwenstudio/internal/storage"
)

// CreationsList returns the most recent creations, newest first.
func (a *App) CreationsList(w http.ResponseWriter, r *http.Request) {
	if a.Creations == nil {
		a.json(w, http.StatusOK, map[string]any{"items": []domain.Creation{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.Creations.ListRecent(r.Context(), limit)
	if err != nil {
		a.logger().Error().Err(err).Msg("creations: list failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// CreationImage serves the mirrored copy of a creation's image.
func (a *App) CreationImage(w http.ResponseWriter, r *http.Request) {
	if a.Creations == nil || a.Store == nil {
		a.error(w, r, http.StatusNotFound, "not_found", "Creation not found")
		return
	}
	creation, err := a.Creations.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && creation.StorageKey == "") {
		a.error(w, r, http.StatusNotFound, "not_found", "Creation not found")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Msg("creations: load failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred")
		return
	}
	data, contentType, err := a.Store.Get(r.Context(), creation.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		a.error(w, r, http.StatusNotFound, "not_found", "Creation not found")
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Str("storage_key", creation.StorageKey).Msg("creations: read image failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
