package perception

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/tools"
)

// ToolOutput is a dispatched tool result keyed by the call that requested it.
type ToolOutput struct {
	CallID string
	Output string
}

// RunResult is the outcome of driving one generation run until it completes
// or suspends. When PendingToolCalls is non-empty the run is paused and must
// be resumed with ResumeAfterTools.
type RunResult struct {
	Text             string
	RunID            string
	PendingToolCalls []conversation.ToolCall
}

// pausedRun snapshots a suspended run so it can be resumed after tool
// dispatch. Abandoned entries are never cleaned up; a paused run that is
// never resumed just sits here until process exit, matching the accepted
// leak in the design.
type pausedRun struct {
	req   StreamRequest
	calls []conversation.ToolCall
	text  string
}

// Runner drives generation runs against a thread: it opens the event
// stream, accumulates text deltas in arrival order, and pauses exactly when
// the backend requests tool output.
type Runner struct {
	client Client

	mu     sync.Mutex
	paused map[string]*pausedRun

	// OnDelta, when set, receives each text fragment as it arrives. Used by
	// the terminal UI for incremental rendering.
	OnDelta func(delta string)
}

// NewRunner creates a runner over the given backend client.
func NewRunner(client Client) *Runner {
	return &Runner{
		client: client,
		paused: make(map[string]*pausedRun),
	}
}

// Run starts a generation run over the thread's history with the given
// per-turn instructions and tool declarations. It returns when the run
// completes or suspends for a tool call.
func (r *Runner) Run(ctx context.Context, thread *conversation.Thread, instructions string, defs []tools.Definition) (RunResult, error) {
	if thread.HasDanglingToolCall() {
		return RunResult{}, ErrDanglingToolCall
	}

	req := StreamRequest{
		System:      instructions,
		Messages:    threadMessages(thread),
		Tools:       defs,
		Temperature: 0.7,
	}
	return r.drive(ctx, req)
}

// ResumeAfterTools submits tool outputs into a paused run and continues
// consuming the stream until completion or another suspension.
func (r *Runner) ResumeAfterTools(ctx context.Context, runID string, outputs []ToolOutput) (RunResult, error) {
	r.mu.Lock()
	paused, ok := r.paused[runID]
	if ok {
		delete(r.paused, runID)
	}
	r.mu.Unlock()
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	req := paused.req
	req.Messages = append(req.Messages, Message{
		Role:      "assistant",
		Content:   paused.text,
		ToolCalls: paused.calls,
	})
	for _, out := range outputs {
		req.Messages = append(req.Messages, Message{
			Role:       "tool",
			Content:    out.Output,
			ToolCallID: out.CallID,
		})
	}

	logging.Stream("Resuming run %s with %d tool outputs", runID, len(outputs))
	return r.drive(ctx, req)
}

// drive consumes the event stream for one request. Deltas are concatenated
// strictly in arrival order.
func (r *Runner) drive(ctx context.Context, req StreamRequest) (RunResult, error) {
	events, err := r.client.Stream(ctx, req)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
	}

	var text string
	terminal := false
	for event := range events {
		switch event.Kind {
		case EventTextDelta:
			text += event.Delta
			if r.OnDelta != nil {
				r.OnDelta(event.Delta)
			}
		case EventToolCallRequested:
			runID := uuid.NewString()
			r.mu.Lock()
			r.paused[runID] = &pausedRun{req: req, calls: event.ToolCalls, text: text}
			r.mu.Unlock()
			logging.Stream("Run %s suspended: %d tool calls requested", runID, len(event.ToolCalls))
			return RunResult{Text: text, RunID: runID, PendingToolCalls: event.ToolCalls}, nil
		case EventRunCompleted:
			terminal = true
		case EventRunFailed:
			return RunResult{Text: text}, event.Err
		}
	}
	if !terminal {
		return RunResult{Text: text}, fmt.Errorf("%w: stream closed without completion", ErrStreamInterrupted)
	}

	logging.StreamDebug("Run completed (%d chars)", len(text))
	return RunResult{Text: text, RunID: uuid.NewString()}, nil
}

// threadMessages flattens thread history into provider messages.
func threadMessages(thread *conversation.Thread) []Message {
	turns := thread.Turns()
	out := make([]Message, 0, len(turns))
	for _, turn := range turns {
		out = append(out, Message{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
			ToolCalls:  turn.ToolCalls,
		})
	}
	return out
}

// PausedRuns reports how many suspended runs are being held. Exposed for
// diagnostics; abandoned runs accumulate here by design.
func (r *Runner) PausedRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paused)
}
