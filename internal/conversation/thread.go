// Package conversation implements the append-only thread model for WildfireGPT.
//
// A Thread is the ordered turn history of one conversation instance. Turns
// are immutable once appended; forking a thread replays a suffix of an old
// one onto a fresh thread ID so a conversation can be resumed without ever
// editing history.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall records a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// RawArguments preserves the unparsed argument payload so malformed
	// JSON can still be reported back to the model.
	RawArguments string `json:"raw_arguments,omitempty"`
}

// Turn is one role-tagged message in a thread. Once appended it is never
// edited or deleted.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ToolCallID correlates a tool turn to the assistant turn that
	// requested it. Empty for non-tool turns.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls carries the calls requested by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Thread is an ordered, append-only sequence of turns with an opaque ID.
type Thread struct {
	mu    sync.RWMutex
	id    string
	turns []Turn
}

// NewThread creates an empty thread with a fresh ID.
func NewThread() *Thread {
	return &Thread{id: uuid.NewString()}
}

// ID returns the thread's opaque identifier.
func (t *Thread) ID() string {
	return t.id
}

// Append adds a turn to the end of the thread. The timestamp is stamped at
// append time if the caller left it zero.
func (t *Thread) Append(turn Turn) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	t.turns = append(t.turns, turn)
	return len(t.turns) - 1
}

// AppendUser appends a user turn with the given content.
func (t *Thread) AppendUser(content string) int {
	return t.Append(Turn{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn.
func (t *Thread) AppendAssistant(content string, calls []ToolCall) int {
	return t.Append(Turn{Role: RoleAssistant, Content: content, ToolCalls: calls})
}

// AppendTool appends a tool result turn correlated to a prior assistant
// tool call.
func (t *Thread) AppendTool(callID, content string) int {
	return t.Append(Turn{Role: RoleTool, Content: content, ToolCallID: callID})
}

// Len returns the number of turns.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Turn returns a copy of the turn at index i.
func (t *Thread) Turn(i int) (Turn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.turns) {
		return Turn{}, fmt.Errorf("turn index %d out of range (len %d)", i, len(t.turns))
	}
	return t.turns[i], nil
}

// Turns returns a copy of all turns in append order.
func (t *Thread) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// LastUserMessage returns the content of the most recent user turn, or
// empty string if there is none.
func (t *Thread) LastUserMessage() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == RoleUser {
			return t.turns[i].Content
		}
	}
	return ""
}

// HasDanglingToolCall reports whether the last assistant turn requested a
// tool call that has not yet been answered by a tool turn. Generation must
// not resume on a thread in this state.
func (t *Thread) HasDanglingToolCall() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	answered := make(map[string]bool)
	for i := len(t.turns) - 1; i >= 0; i-- {
		turn := t.turns[i]
		switch turn.Role {
		case RoleTool:
			answered[turn.ToolCallID] = true
		case RoleAssistant:
			for _, call := range turn.ToolCalls {
				if !answered[call.ID] {
					return true
				}
			}
			return false
		}
	}
	return false
}

// Fork creates a new thread replaying the last n turns of this one. A
// non-positive n replays the full history.
func (t *Thread) Fork(n int) *Thread {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if n > 0 && n < len(t.turns) {
		start = len(t.turns) - n
	}
	forked := NewThread()
	forked.turns = make([]Turn, len(t.turns)-start)
	copy(forked.turns, t.turns[start:])
	return forked
}
