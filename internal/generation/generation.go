package generation

import (
	"context"
	"errors"

	"github.com/trendrbot/trendrbot/internal/model"
)

var (
	ErrEmptyResponse = errors.New("model returned no text")
	ErrBlocked       = errors.New("prompt or response was blocked")
)

type Result struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Model        string `json:"model"`
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Generator sends one prompt to a hosted model. A nil error guarantees
// non-empty Result.Text.
type Generator interface {
	Generate(ctx context.Context, descriptor model.Descriptor, prompt string) (Result, error)
}
