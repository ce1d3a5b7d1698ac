// Package perception implements the LLM backend boundary for WildfireGPT:
// the provider client, the streaming event union, and the run lifecycle
// (start, suspend on tool call, resume with tool outputs).
package perception

import (
	"context"
	"errors"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/tools"
)

const defaultSystemPrompt = "You are WildfireGPT, a wildfire risk assistant. Respond in English. Be concise. Ground answers only in provided data and tool results."

// Backend errors.
var (
	// ErrStreamInterrupted is returned when the event stream fails mid-run.
	// This is the one hard per-turn failure; it propagates to the caller.
	ErrStreamInterrupted = errors.New("generation stream interrupted")

	// ErrUnknownRun is returned when resuming a run that was never paused
	// or was already consumed.
	ErrUnknownRun = errors.New("unknown run id")

	// ErrDanglingToolCall is returned when generation is attempted on a
	// thread whose last assistant turn has an unanswered tool call.
	ErrDanglingToolCall = errors.New("thread has a dangling unanswered tool call")
)

// Message is one provider-facing chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCallID is set on role=tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []conversation.ToolCall `json:"tool_calls,omitempty"`
}

// ChatOptions tunes a single non-streaming completion call.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// StreamRequest describes one streaming generation run.
type StreamRequest struct {
	System      string
	Messages    []Message
	Tools       []tools.Definition
	Temperature float64
	MaxTokens   int
}

// EventKind tags the closed set of stream event variants.
type EventKind int

const (
	// EventTextDelta carries an incremental text fragment.
	EventTextDelta EventKind = iota

	// EventToolCallRequested means the run suspended waiting for tool
	// outputs.
	EventToolCallRequested

	// EventRunCompleted means the run finished normally.
	EventRunCompleted

	// EventRunFailed means the stream broke; Err is set.
	EventRunFailed
)

// StreamEvent is one event from the generation backend. Exactly the field
// matching Kind is meaningful.
type StreamEvent struct {
	Kind      EventKind
	Delta     string
	ToolCalls []conversation.ToolCall
	Err       error
}

// Client is the LLM backend contract. Chat serves the decision policy's
// constrained classification calls; Stream serves generation runs.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
}
