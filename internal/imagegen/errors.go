package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorCode is the closed taxonomy of failures surfaced to users. Values
// follow the DashScope wire codes where one exists.
type ErrorCode string

const (
	CodeInvalidAPIKey           ErrorCode = "InvalidApiKey"
	CodeAuthFailed              ErrorCode = "AuthFailed"
	CodeRateLimitExceeded       ErrorCode = "RateLimitExceeded"
	CodeQuotaExceeded           ErrorCode = "QuotaExceeded"
	CodeContentModerationFailed ErrorCode = "DataInspectionFailed"
	CodeInvalidRequest          ErrorCode = "InvalidRequest"
	CodeTaskNotFound            ErrorCode = "TaskNotFound"
	CodeTaskFailed              ErrorCode = "TaskFailed"
	CodeNetworkError            ErrorCode = "NetworkError"
	CodeTimeout                 ErrorCode = "Timeout"
	CodeUnknown                 ErrorCode = "Unknown"
)

// ParsedError is a classified failure. It is treated as immutable once built.
type ParsedError struct {
	Code             ErrorCode `json:"code"`
	UserMessage      string    `json:"user_message"`
	TechnicalMessage string    `json:"technical_message"`
	Suggestion       string    `json:"suggestion"`
	Retryable        bool      `json:"is_retryable"`
}

func (e *ParsedError) Error() string {
	if e == nil {
		return ""
	}
	if e.TechnicalMessage != "" && e.TechnicalMessage != e.UserMessage {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.UserMessage, e.TechnicalMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

func (e *ParsedError) clone() *ParsedError {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// APIError carries a non-2xx response exactly as the transport received it.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type errorTemplate struct {
	userMessage string
	suggestion  string
	retryable   bool
}

var apiErrorTable = map[ErrorCode]errorTemplate{
	CodeInvalidAPIKey: {
		userMessage: "API key is invalid or missing",
		suggestion:  "Check your .env file and ensure DASHSCOPE_API_KEY is set correctly",
	},
	CodeAuthFailed: {
		userMessage: "Authentication failed",
		suggestion:  "Check your API key configuration",
	},
	CodeRateLimitExceeded: {
		userMessage: "Too many requests - rate limit exceeded",
		suggestion:  "Wait a few minutes before trying again",
		retryable:   true,
	},
	CodeQuotaExceeded: {
		userMessage: "API quota exceeded - no more generations available",
		suggestion:  "Check your Alibaba Cloud account to add more quota",
	},
	CodeContentModerationFailed: {
		userMessage: "Prompt blocked by content moderation",
		suggestion:  "Try rephrasing your prompt. Avoid sensitive or inappropriate content.",
	},
	CodeInvalidRequest: {
		userMessage: "Invalid request format",
		suggestion:  "This is likely a bug - please report it",
	},
	CodeTaskNotFound: {
		userMessage: "Task not found - it may have expired",
		suggestion:  "Try generating the image again",
		retryable:   true,
	},
	CodeTaskFailed: {
		userMessage: "Image generation failed on the server",
		suggestion:  "Try a different prompt or check the DashScope console for details",
		retryable:   true,
	},
}

// DashScope reports some conditions under codes of its own.
var apiCodeAliases = map[string]ErrorCode{
	"Throttling":           CodeRateLimitExceeded,
	"Throttling.RateQuota": CodeRateLimitExceeded,
	"Arrearage":            CodeQuotaExceeded,
	"InvalidParameter":     CodeInvalidRequest,
}

func lookupAPICode(raw string) (ErrorCode, errorTemplate, bool) {
	code := ErrorCode(raw)
	if alias, ok := apiCodeAliases[raw]; ok {
		code = alias
	}
	tmpl, ok := apiErrorTable[code]
	return code, tmpl, ok
}

type apiErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Classifier turns raw failures into ParsedErrors. It keeps no state besides
// the diagnostics sink and is safe for concurrent use.
type Classifier struct {
	sink Sink
	now  func() time.Time
}

// NewClassifier builds a classifier reporting to sink. A nil sink discards.
func NewClassifier(sink Sink) *Classifier {
	return &Classifier{sink: sink, now: time.Now}
}

// ClassifyAPIError interprets a non-2xx response body and status code.
func (c *Classifier) ClassifyAPIError(body string, statusCode int) ParsedError {
	var decoded apiErrorBody
	if isJSONObject(body) && json.Unmarshal([]byte(body), &decoded) == nil {
		parsed := classifyDecodedAPIError(decoded)
		c.emit(Event{
			Category:   CategoryAPIError,
			StatusCode: statusCode,
			Error:      &parsed,
			Raw:        decoded,
			RequestID:  decoded.RequestID,
		})
		return parsed
	}

	parsed := classifyStatusCode(body, statusCode)
	c.emit(Event{
		Category:   CategoryAPIError,
		StatusCode: statusCode,
		Error:      &parsed,
		Raw:        body,
		Note:       "failed to parse as JSON",
	})
	return parsed
}

// isJSONObject reports whether body can only decode as a JSON object. Bodies
// such as null decode without error but carry no fields.
func isJSONObject(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), "{")
}

func classifyDecodedAPIError(decoded apiErrorBody) ParsedError {
	if code, tmpl, ok := lookupAPICode(decoded.Code); ok {
		return ParsedError{
			Code:             code,
			UserMessage:      tmpl.userMessage,
			TechnicalMessage: decoded.Message,
			Suggestion:       tmpl.suggestion,
			Retryable:        tmpl.retryable,
		}
	}
	userMessage := decoded.Message
	if userMessage == "" {
		userMessage = "Unknown error"
	}
	return ParsedError{
		Code:             CodeUnknown,
		UserMessage:      userMessage,
		TechnicalMessage: decoded.Message,
		Suggestion:       "Try again or contact support",
	}
}

func classifyStatusCode(body string, statusCode int) ParsedError {
	switch {
	case statusCode == http.StatusUnauthorized:
		return ParsedError{
			Code:             CodeAuthFailed,
			UserMessage:      "Authentication failed",
			TechnicalMessage: body,
			Suggestion:       "Check your API key configuration",
		}
	case statusCode == http.StatusTooManyRequests:
		return ParsedError{
			Code:             CodeRateLimitExceeded,
			UserMessage:      "Too many requests",
			TechnicalMessage: body,
			Suggestion:       "Wait a few minutes before trying again",
			Retryable:        true,
		}
	case statusCode >= http.StatusInternalServerError:
		return ParsedError{
			Code:             CodeUnknown,
			UserMessage:      "Server error - DashScope API is having issues",
			TechnicalMessage: body,
			Suggestion:       "Try again in a few minutes",
			Retryable:        true,
		}
	default:
		return ParsedError{
			Code:             CodeUnknown,
			UserMessage:      fmt.Sprintf("Request failed (%d)", statusCode),
			TechnicalMessage: body,
			Suggestion:       "Check your internet connection and try again",
		}
	}
}

// ClassifyTransportError interprets a failure raised by the networking layer.
// v is usually an error but may be any value recovered from a panic.
func (c *Classifier) ClassifyTransportError(v any) ParsedError {
	var parsed ParsedError
	err, isErr := v.(error)
	switch {
	case isErr && err != nil && isTimeout(err):
		parsed = ParsedError{
			Code:             CodeTimeout,
			UserMessage:      "Request timed out",
			TechnicalMessage: err.Error(),
			Suggestion:       "Check your internet connection and try again",
			Retryable:        true,
		}
	case isErr && err != nil && isConnectionFailure(err):
		parsed = ParsedError{
			Code:             CodeNetworkError,
			UserMessage:      "Network error - could not reach the API",
			TechnicalMessage: err.Error(),
			Suggestion:       "Check your internet connection",
			Retryable:        true,
		}
	case isErr && err != nil:
		parsed = ParsedError{
			Code:             CodeUnknown,
			UserMessage:      "An unexpected error occurred",
			TechnicalMessage: err.Error(),
			Suggestion:       "Try again in a moment",
		}
	default:
		parsed = ParsedError{
			Code:             CodeUnknown,
			UserMessage:      "An unexpected error occurred",
			TechnicalMessage: "Unknown error",
			Suggestion:       "Try again in a moment",
		}
	}
	c.emit(Event{
		Category: CategoryNetworkError,
		Error:    &parsed,
		Raw:      describeRaw(v),
	})
	return parsed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isConnectionFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fetch") || strings.Contains(msg, "connection")
}

func describeRaw(v any) any {
	if err, ok := v.(error); ok && err != nil {
		return map[string]string{"type": fmt.Sprintf("%T", err), "message": err.Error()}
	}
	return v
}

func (c *Classifier) emit(ev Event) {
	if c == nil {
		return
	}
	if ev.Timestamp.IsZero() && c.now != nil {
		ev.Timestamp = c.now()
	}
	if ev.Action == "" && ev.Error != nil {
		ev.Action = actionFor(*ev.Error)
	}
	Emit(c.sink, ev)
}

func actionFor(parsed ParsedError) string {
	if parsed.Retryable {
		return "will retry with backoff"
	}
	return "will show to user"
}

func missingImageError() ParsedError {
	return ParsedError{
		Code:             CodeTaskFailed,
		UserMessage:      "Image generation finished without an image",
		TechnicalMessage: "No image URL in response",
		Suggestion:       "Try generating the image again",
		Retryable:        true,
	}
}

func taskFailedError(code, message string) ParsedError {
	tmpl := apiErrorTable[CodeTaskFailed]
	technical := "Task failed"
	if message = strings.TrimSpace(message); message != "" {
		technical = message
		if code = strings.TrimSpace(code); code != "" {
			technical = fmt.Sprintf("%s (%s)", message, code)
		}
	}
	return ParsedError{
		Code:             CodeTaskFailed,
		UserMessage:      tmpl.userMessage,
		TechnicalMessage: technical,
		Suggestion:       tmpl.suggestion,
		Retryable:        true,
	}
}

func invalidOptionsError(err error) ParsedError {
	tmpl := apiErrorTable[CodeInvalidRequest]
	return ParsedError{
		Code:             CodeInvalidRequest,
		UserMessage:      tmpl.userMessage,
		TechnicalMessage: err.Error(),
		Suggestion:       "Pick one of the supported image sizes",
	}
}

// MissingAPIKeyError is what a transport reports when it has no credentials
// to send.
func MissingAPIKeyError() *ParsedError {
	tmpl := apiErrorTable[CodeInvalidAPIKey]
	return &ParsedError{
		Code:             CodeInvalidAPIKey,
		UserMessage:      tmpl.userMessage,
		TechnicalMessage: "DASHSCOPE_API_KEY not configured",
		Suggestion:       tmpl.suggestion,
	}
}
