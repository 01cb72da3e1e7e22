package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/providers/qwen"
)

type proxyGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	PromptExtend bool   `json:"prompt_extend"`
	Watermark    bool   `json:"watermark"`
}

// ProxyGenerate forwards a generation request to DashScope with the server's
// credentials and relays the answer.
func (a *App) ProxyGenerate(w http.ResponseWriter, r *http.Request) {
	var req proxyGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Prompt == "" {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "Prompt is required"})
		return
	}
	if req.Size == "" {
		req.Size = string(imagegen.DefaultSize)
	}
	if a.Qwen == nil || !a.Qwen.HasCredentials() {
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "DASHSCOPE_API_KEY not configured"})
		return
	}
	body, err := a.Qwen.BuildGenerationBody(req.Prompt, imagegen.GenerationOptions{
		Size:         imagegen.Size(req.Size),
		PromptExtend: req.PromptExtend,
		Watermark:    req.Watermark,
	})
	if err != nil {
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "Failed to marshal request"})
		return
	}
	resp, err := a.Qwen.ForwardGeneration(r.Context(), body)
	a.relay(w, resp, err)
}

// ProxyTask forwards a task status query to DashScope.
func (a *App) ProxyTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "taskId"))
	if taskID == "" {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "Task ID is required"})
		return
	}
	if a.Qwen == nil || !a.Qwen.HasCredentials() {
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "DASHSCOPE_API_KEY not configured"})
		return
	}
	resp, err := a.Qwen.ForwardTask(r.Context(), taskID)
	a.relay(w, resp, err)
}

// relay passes DashScope's JSON through, keeping error statuses and
// reporting every success as 200.
func (a *App) relay(w http.ResponseWriter, resp *qwen.RawResponse, err error) {
	if errors.Is(err, qwen.ErrMissingAPIKey) {
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "DASHSCOPE_API_KEY not configured"})
		return
	}
	if err != nil {
		a.logger().Error().Err(err).Msg("proxy: DashScope call failed")
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "Failed to call DashScope API"})
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "Failed to parse response"})
		return
	}
	status := http.StatusOK
	if resp.StatusCode >= 400 {
		status = resp.StatusCode
	}
	a.json(w, status, payload)
}
