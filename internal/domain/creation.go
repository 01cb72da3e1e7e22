package domain

import (
	"context"
	"time"
)

const (
	DefaultCreationsLimit = 12
	MaxCreationsLimit     = 50
)

// Creation is a successfully generated image kept for the recent list.
type Creation struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Prompt       string    `json:"prompt"`
	Size         string    `json:"size"`
	PromptExtend bool      `json:"prompt_extend"`
	Watermark    bool      `json:"watermark"`
	TaskID       string    `json:"task_id,omitempty"`
	ImageURL     string    `json:"image_url"`
	StorageKey   string    `json:"storage_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreationRepository persists creations.
type CreationRepository interface {
	Create(ctx context.Context, c *Creation) error
	ListRecent(ctx context.Context, limit int) ([]Creation, error)
	GetByID(ctx context.Context, id string) (*Creation, error)
}

// ClampCreationsLimit applies the default and upper bound to a requested limit.
func ClampCreationsLimit(limit int) int {
	if limit <= 0 {
		return DefaultCreationsLimit
	}
	if limit > MaxCreationsLimit {
		return MaxCreationsLimit
	}
	return limit
}
