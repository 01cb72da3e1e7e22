package imagegen

import (
	"time"

	"github.com/rs/zerolog"
)

// Category tags a diagnostic event.
type Category string

const (
	CategoryAPIError           Category = "api_error"
	CategoryNetworkError       Category = "network_error"
	CategoryRetryAttempt       Category = "retry_attempt"
	CategoryTaskCreated        Category = "task_created"
	CategoryTaskCreationFailed Category = "task_creation_failed"
	CategoryTaskSucceeded      Category = "task_succeeded"
	CategoryTaskFailed         Category = "task_failed"
	CategoryTaskMissingImage   Category = "task_missing_image"
	CategoryTaskPollFailed     Category = "task_poll_failed"
)

// Terminal reports whether the category marks the end of a generation.
func (c Category) Terminal() bool {
	switch c {
	case CategoryTaskSucceeded, CategoryTaskFailed, CategoryTaskMissingImage,
		CategoryTaskCreationFailed, CategoryTaskPollFailed:
		return true
	}
	return false
}

// Event is a best-effort diagnostic record.
type Event struct {
	Category   Category      `json:"category"`
	Timestamp  time.Time     `json:"timestamp"`
	TaskID     string        `json:"task_id,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Error      *ParsedError  `json:"error,omitempty"`
	ImageURL   string        `json:"image_url,omitempty"`
	Action     string        `json:"action,omitempty"`
	Note       string        `json:"note,omitempty"`
	Raw        any           `json:"raw,omitempty"`
}

// Sink receives diagnostic events. Implementations must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Emit delivers ev to sink and swallows anything the sink panics with.
func Emit(sink Sink, ev Event) {
	if sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	defer func() { _ = recover() }()
	sink.Emit(ev)
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, sink := range m {
		Emit(sink, ev)
	}
}

// LogSink writes events as structured zerolog records.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a sink on top of logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "imagegen").Logger()}
}

func (s *LogSink) Emit(ev Event) {
	var entry *zerolog.Event
	switch ev.Category {
	case CategoryAPIError, CategoryNetworkError, CategoryTaskCreationFailed,
		CategoryTaskFailed, CategoryTaskMissingImage, CategoryTaskPollFailed:
		entry = s.logger.Error()
	case CategoryRetryAttempt:
		entry = s.logger.Warn()
	default:
		entry = s.logger.Info()
	}
	entry = entry.
		Str("category", string(ev.Category)).
		Str("at", ev.Timestamp.UTC().Format(time.RFC3339Nano))
	if ev.TaskID != "" {
		entry = entry.Str("task_id", ev.TaskID)
	}
	if ev.RequestID != "" {
		entry = entry.Str("request_id", ev.RequestID)
	}
	if ev.StatusCode != 0 {
		entry = entry.Int("status_code", ev.StatusCode)
	}
	if ev.Attempt > 0 {
		entry = entry.Int("attempt", ev.Attempt).Dur("delay", ev.Delay)
	}
	if ev.Error != nil {
		entry = entry.
			Str("error_code", string(ev.Error.Code)).
			Str("user_message", ev.Error.UserMessage).
			Str("technical_message", ev.Error.TechnicalMessage).
			Str("suggestion", ev.Error.Suggestion).
			Bool("is_retryable", ev.Error.Retryable)
	}
	if ev.ImageURL != "" {
		entry = entry.Str("image_url", ev.ImageURL)
	}
	if ev.Action != "" {
		entry = entry.Str("action", ev.Action)
	}
	if ev.Raw != nil {
		entry = entry.Interface("raw", ev.Raw)
	}
	if ev.Note != "" {
		entry = entry.Str("note", ev.Note)
	}
	entry.Msg("imagegen: " + string(ev.Category))
}

var _ Sink = (*LogSink)(nil)
