package imagegen

import (
	"context"
	"fmt"
	"strings"
)

// Status is the single authoritative lifecycle value of a Controller.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transitions happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Size is an output dimension accepted by the generator.
type Size string

const (
	Size1024Square Size = "1024*1024"
	Size1328Square Size = "1328*1328"
	Size1920Wide   Size = "1920*1080"
)

// DefaultSize is the largest supported square.
const DefaultSize = Size1328Square

// SupportedSizes lists every accepted Size.
func SupportedSizes() []Size {
	return []Size{Size1024Square, Size1328Square, Size1920Wide}
}

// ParseSize normalizes user input such as "1328x1328" into a Size.
func ParseSize(raw string) (Size, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return DefaultSize, nil
	}
	trimmed = strings.ReplaceAll(trimmed, "x", "*")
	for _, s := range SupportedSizes() {
		if string(s) == trimmed {
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported size %q", raw)
}

// GenerationOptions tune a single generate call.
type GenerationOptions struct {
	Size         Size `json:"size"`
	PromptExtend bool `json:"prompt_extend"`
	Watermark    bool `json:"watermark"`
}

// DefaultGenerationOptions returns the largest square, prompt extension on
// and no watermark.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{Size: DefaultSize, PromptExtend: true, Watermark: false}
}

// Validate checks the option shape only.
func (o GenerationOptions) Validate() error {
	if o.Size == "" {
		return nil
	}
	if _, err := ParseSize(string(o.Size)); err != nil {
		return err
	}
	return nil
}

func (o GenerationOptions) withDefaults() GenerationOptions {
	if o.Size == "" {
		o.Size = DefaultSize
	}
	return o
}

// TaskStatus is the remote task state reported by the generator.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
	TaskUnknown   TaskStatus = "UNKNOWN"
)

// CreateResult is either a task handle to poll or, in synchronous mode, the
// final image.
type CreateResult struct {
	TaskID    string
	ImageURL  string
	RequestID string
}

// TaskResult is one observation of a remote task.
type TaskResult struct {
	TaskID   string
	Status   TaskStatus
	ImageURL string
	Code     string
	Message  string
}

// Transport performs the two network operations the controller needs.
type Transport interface {
	CreateTask(ctx context.Context, prompt string, opts GenerationOptions) (CreateResult, error)
	FetchTaskResult(ctx context.Context, taskID string) (TaskResult, error)
}

// State is the observable projection of a Controller. Empty strings stand
// for absent values.
type State struct {
	Status   Status       `json:"status"`
	ImageURL string       `json:"image_url"`
	TaskID   string       `json:"task_id"`
	Error    *ParsedError `json:"error"`
}

func idleState() State {
	return State{Status: StatusIdle}
}

func (s State) clone() State {
	s.Error = s.Error.clone()
	return s
}
