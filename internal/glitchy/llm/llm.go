// Package llm talks to the remote completion service.
//
// Inferencer has two call shapes: a plain chat completion and a completion
// augmented with live web search, which also returns the sources it cited.
// Both can fail with a timeout, a network error or a *StatusError; IsTransient
// tells the caller which of those are worth retrying.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	Messages []Message
	// Model, Temperature and MaxTokens override the adapter defaults when
	// non-zero.
	Model       string
	Temperature float64
	MaxTokens   int
}

// Inferencer is the remote model.
type Inferencer interface {
	// CompletePlain returns the model's reply.
	CompletePlain(ctx context.Context, req Request) (string, error)
	// CompleteWithSearch returns the model's reply, grounded in a live web
	// search, and the URLs it cited.
	CompleteWithSearch(ctx context.Context, req Request) (string, []string, error)
}

// ErrEmptyReply is returned when the service answers without any content.
var ErrEmptyReply = errors.New("llm: empty reply")

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	Code int
	// Body is a redacted, truncated excerpt of the response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: HTTP %d", e.Code)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: timeouts, network
// failures, empty replies, 408, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyReply) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout ||
			se.Code == http.StatusTooManyRequests ||
			se.Code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
