// Package ai holds the external model adapters. Implementations are
// swappable; the pipeline only sees text in and text out.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient marks a downstream failure (network, 5xx, rate limit) the
// queue should retry with backoff.
var ErrTransient = errors.New("transient downstream error")

// SpeechAdapter turns one audio file into text.
type SpeechAdapter interface {
	Transcribe(ctx context.Context, audioPath, prompt string) (string, error)
}

// LLMAdapter produces text from a prompt.
type LLMAdapter interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// statusError converts an HTTP status into the right error class.
func statusError(provider string, status int, body string) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%s returned HTTP %d: %s: %w", provider, status, body, ErrTransient)
	}
	return fmt.Errorf("%s returned HTTP %d: %s", provider, status, body)
}
