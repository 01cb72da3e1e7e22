package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qwenstudio/internal/imagegen"
)

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "sk-test",
		BaseURL:    "https://dashscope.example.com/api/v1/",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestCreateTaskPayloadAndAsyncResponse(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"output":     map[string]any{"task_id": "task-123", "task_status": "PENDING"},
		"request_id": "req-1",
	})
	client := newTestClient(t, transport)

	result, err := client.CreateTask(context.Background(), "a lighthouse at dusk", imagegen.GenerationOptions{
		Size:         imagegen.Size1920Wide,
		PromptExtend: true,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if result.TaskID != "task-123" || result.ImageURL != "" || result.RequestID != "req-1" {
		t.Fatalf("result = %+v", result)
	}

	if got := transport.lastHeader.Get("X-DashScope-Async"); got != "enable" {
		t.Fatalf("X-DashScope-Async = %q, want enable", got)
	}
	if got := transport.lastHeader.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "qwen-image-plus" {
		t.Fatalf("model = %v", payload["model"])
	}
	params := payload["parameters"].(map[string]any)
	if params["size"] != "1920*1080" || params["prompt_extend"] != true || params["watermark"] != false {
		t.Fatalf("parameters = %v", params)
	}
	messages := payload["input"].(map[string]any)["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages len = %d, want 1", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["role"] != "user" {
		t.Fatalf("role = %v", msg["role"])
	}
	content := msg["content"].([]any)
	if text := content[0].(map[string]any)["text"]; text != "a lighthouse at dusk" {
		t.Fatalf("text = %v", text)
	}
}

func TestCreateTaskSynchronousImage(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{
							map[string]any{"image": "https://example.com/generated/out.png"},
						},
					},
				},
			},
		},
		"request_id": "req-123",
	})
	client := newTestClient(t, transport)

	result, err := client.CreateTask(context.Background(), "x", imagegen.DefaultGenerationOptions())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if result.ImageURL != "https://example.com/generated/out.png" || result.TaskID != "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestCreateTaskMissingTaskAndImage(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"output": map[string]any{},
	})
	client := newTestClient(t, transport)
	if _, err := client.CreateTask(context.Background(), "x", imagegen.DefaultGenerationOptions()); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestCreateTaskNon2xxReturnsAPIError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/api/v1/services/aigc/multimodal-generation/generation": {
			status: http.StatusTooManyRequests,
			body:   []byte(`{"code":"Throttling.RateQuota","message":"Requests rate limit exceeded"}`),
		},
	}}
	client := newTestClient(t, transport)

	_, err := client.CreateTask(context.Background(), "x", imagegen.DefaultGenerationOptions())
	var apiErr *imagegen.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *imagegen.APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !strings.Contains(apiErr.Body, "Throttling") {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestCreateTaskWithoutCredentials(t *testing.T) {
	client, err := NewClient(Options{HTTPClient: &http.Client{Transport: &captureTransport{}}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreateTask(context.Background(), "x", imagegen.DefaultGenerationOptions())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	var parsed *imagegen.ParsedError
	if !errors.As(err, &parsed) || parsed.Code != imagegen.CodeInvalidAPIKey || parsed.Retryable {
		t.Fatalf("expected non-retryable InvalidApiKey, got %v", err)
	}
}

func TestFetchTaskResult(t *testing.T) {
	tests := []struct {
		name       string
		output     map[string]any
		wantStatus imagegen.TaskStatus
		wantURL    string
		wantCode   string
	}{
		{
			name:       "running",
			output:     map[string]any{"task_id": "t1", "task_status": "RUNNING"},
			wantStatus: imagegen.TaskRunning,
		},
		{
			name: "succeeded with choices",
			output: map[string]any{
				"task_id":     "t1",
				"task_status": "SUCCEEDED",
				"choices": []any{map[string]any{"message": map[string]any{"content": []any{
					map[string]any{"image": "https://example.com/a.png", "type": "image"},
				}}}},
			},
			wantStatus: imagegen.TaskSucceeded,
			wantURL:    "https://example.com/a.png",
		},
		{
			name: "succeeded with results",
			output: map[string]any{
				"task_id":     "t1",
				"task_status": "SUCCEEDED",
				"results":     []any{map[string]any{"url": "https://example.com/b.png"}},
			},
			wantStatus: imagegen.TaskSucceeded,
			wantURL:    "https://example.com/b.png",
		},
		{
			name:       "failed",
			output:     map[string]any{"task_id": "t1", "task_status": "FAILED", "code": "InternalError", "message": "boom"},
			wantStatus: imagegen.TaskFailed,
			wantCode:   "InternalError",
		},
		{
			name:       "unknown",
			output:     map[string]any{"task_id": "t1", "task_status": "CANCELED"},
			wantStatus: imagegen.TaskUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			transport.setJSONResponse("https://dashscope.example.com/api/v1/tasks/t1", map[string]any{"output": tc.output})
			client := newTestClient(t, transport)

			result, err := client.FetchTaskResult(context.Background(), "t1")
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if result.Status != tc.wantStatus || result.ImageURL != tc.wantURL || result.Code != tc.wantCode {
				t.Fatalf("result = %+v", result)
			}
			if transport.lastHeader.Get("X-DashScope-Async") != "" {
				t.Fatalf("task queries must not request async mode")
			}
		})
	}
}

func TestForwardPassesThroughErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-DashScope-Async") != "enable" {
			t.Errorf("missing async header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"DataInspectionFailed","message":"blocked"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Forward(context.Background(), http.MethodPost, generationPath, []byte(`{}`), true)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || !bytes.Contains(resp.Body, []byte("DataInspectionFailed")) {
		t.Fatalf("resp = %d %s", resp.StatusCode, resp.Body)
	}
}

func TestDownload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setBinaryResponse("https://example.com/generated/out.png", []byte{0x89, 'P', 'N', 'G'})
	client := newTestClient(t, transport)

	data, format, err := client.Download(context.Background(), "https://example.com/generated/out.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) != 4 || format != "image/png" {
		t.Fatalf("data = %v format = %q", data, format)
	}
	if _, _, err := client.Download(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

type captureTransport struct {
	responses  map[string]responseStub
	lastBody   []byte
	lastHeader http.Header
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastHeader = req.Header.Clone()
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (c *captureTransport) setBinaryResponse(url string, data []byte) {
	c.responses[url] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"image/png"}},
		body:   data,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
