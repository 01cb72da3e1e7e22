package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
)

const (
	generationPath = "/services/aigc/multimodal-generation/generation"
	tasksPath      = "/tasks/"

	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel   = "qwen-image-plus"

	// maxImageBytes bounds downloads of generated images.
	maxImageBytes = 32 << 20
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey error = imagegen.MissingAPIKeyError()

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope Qwen text-to-image API. It
// implements imagegen.Transport.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	Size         string `json:"size"`
	PromptExtend bool   `json:"prompt_extend"`
	Watermark    bool   `json:"watermark"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Choices    []struct {
		Message struct {
			Content []struct {
				Image string `json:"image"`
			} `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	Output    taskOutput `json:"output"`
	RequestID string     `json:"request_id"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
}

// RawResponse is an upstream reply passed through untouched.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("qwen: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// BuildGenerationBody encodes the DashScope request for prompt and opts.
func (c *Client) BuildGenerationBody(prompt string, opts imagegen.GenerationOptions) ([]byte, error) {
	size := opts.Size
	if size == "" {
		size = imagegen.DefaultSize
	}
	payload := generationRequest{
		Model: c.model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
		Parameters: generationParams{
			Size:         string(size),
			PromptExtend: opts.PromptExtend,
			Watermark:    opts.Watermark,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	return body, nil
}

// CreateTask submits a generation. The result carries the image URL when the
// service answered synchronously and the task id otherwise.
func (c *Client) CreateTask(ctx context.Context, prompt string, opts imagegen.GenerationOptions) (imagegen.CreateResult, error) {
	body, err := c.BuildGenerationBody(prompt, opts)
	if err != nil {
		return imagegen.CreateResult{}, err
	}
	raw, err := c.call(ctx, http.MethodPost, generationPath, body, true)
	if err != nil {
		return imagegen.CreateResult{}, err
	}

	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return imagegen.CreateResult{}, fmt.Errorf("qwen: decode response: %w", err)
	}
	if imageURL := firstImageURL(decoded.Output); imageURL != "" {
		c.logger.Debug().Str("request_id", decoded.RequestID).Msg("qwen: synchronous image response")
		return imagegen.CreateResult{ImageURL: imageURL, RequestID: decoded.RequestID}, nil
	}
	if taskID := strings.TrimSpace(decoded.Output.TaskID); taskID != "" {
		c.logger.Debug().Str("request_id", decoded.RequestID).Str("task_id", taskID).Msg("qwen: task created")
		return imagegen.CreateResult{TaskID: taskID, RequestID: decoded.RequestID}, nil
	}
	return imagegen.CreateResult{}, errors.New("qwen: API response missing both image URL and task_id")
}

// FetchTaskResult reads the current state of a task.
func (c *Client) FetchTaskResult(ctx context.Context, taskID string) (imagegen.TaskResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return imagegen.TaskResult{}, errors.New("qwen: task id is required")
	}
	raw, err := c.call(ctx, http.MethodGet, tasksPath+url.PathEscape(taskID), nil, false)
	if err != nil {
		return imagegen.TaskResult{}, err
	}

	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return imagegen.TaskResult{}, fmt.Errorf("qwen: decode task: %w", err)
	}
	result := imagegen.TaskResult{
		TaskID:   taskID,
		Status:   normalizeStatus(decoded.Output.TaskStatus),
		ImageURL: firstImageURL(decoded.Output),
		Code:     decoded.Output.Code,
		Message:  decoded.Output.Message,
	}
	if id := strings.TrimSpace(decoded.Output.TaskID); id != "" {
		result.TaskID = id
	}
	return result, nil
}

// Forward sends body to path and returns the upstream status and body as-is.
// Transport failures are returned as errors; non-2xx answers are not.
func (c *Client) Forward(ctx context.Context, method, path string, body []byte, async bool) (*RawResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	resp, err := c.do(ctx, method, path, body, async)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}
	return &RawResponse{StatusCode: resp.StatusCode, Body: raw}, nil
}

// ForwardGeneration posts a prepared generation body in async mode.
func (c *Client) ForwardGeneration(ctx context.Context, body []byte) (*RawResponse, error) {
	return c.Forward(ctx, http.MethodPost, generationPath, body, true)
}

// ForwardTask queries a task without interpreting the answer.
func (c *Client) ForwardTask(ctx context.Context, taskID string) (*RawResponse, error) {
	return c.Forward(ctx, http.MethodGet, tasksPath+url.PathEscape(strings.TrimSpace(taskID)), nil, false)
}

// Download fetches a produced image and reports its content type.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("qwen: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("qwen: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("qwen: read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("qwen: image exceeds %d bytes", maxImageBytes)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, async bool) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	resp, err := c.do(ctx, method, path, body, async)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &imagegen.APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, async bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if async {
		req.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	return resp, nil
}

func normalizeStatus(raw string) imagegen.TaskStatus {
	switch imagegen.TaskStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case imagegen.TaskPending:
		return imagegen.TaskPending
	case imagegen.TaskRunning:
		return imagegen.TaskRunning
	case imagegen.TaskSucceeded:
		return imagegen.TaskSucceeded
	case imagegen.TaskFailed:
		return imagegen.TaskFailed
	}
	return imagegen.TaskUnknown
}

func firstImageURL(out taskOutput) string {
	for _, choice := range out.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	for _, result := range out.Results {
		if u := strings.TrimSpace(result.URL); u != "" {
			return u
		}
	}
	return ""
}

var _ imagegen.Transport = (*Client)(nil)
