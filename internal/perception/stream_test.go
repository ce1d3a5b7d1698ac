package perception

import (
	"context"
	"errors"
	"strings"
	"testing"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/tools"
)

// scriptedStreamClient plays back one scripted event sequence per Stream
// call and records the requests it saw.
type scriptedStreamClient struct {
	scripts  [][]StreamEvent
	requests []StreamRequest
}

func (c *scriptedStreamClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (c *scriptedStreamClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (c *scriptedStreamClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	return "", errors.New("not used")
}

func (c *scriptedStreamClient) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	c.requests = append(c.requests, req)
	if len(c.scripts) == 0 {
		return nil, errors.New("no script left")
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range script {
			ch <- ev
		}
	}()
	return ch, nil
}

func deltas(parts ...string) []StreamEvent {
	out := make([]StreamEvent, 0, len(parts))
	for _, p := range parts {
		out = append(out, StreamEvent{Kind: EventTextDelta, Delta: p})
	}
	return out
}

func TestRunConcatenatesDeltasInArrivalOrder(t *testing.T) {
	client := &scriptedStreamClient{scripts: [][]StreamEvent{
		append(deltas("The ", "Fire ", "Weather ", "Index"), StreamEvent{Kind: EventRunCompleted}),
	}}
	r := NewRunner(client)

	var streamed strings.Builder
	r.OnDelta = func(d string) { streamed.WriteString(d) }

	th := conversation.NewThread()
	th.AppendUser("what is FWI?")

	res, err := r.Run(context.Background(), th, "instructions", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "The Fire Weather Index" {
		t.Errorf("Text = %q", res.Text)
	}
	if streamed.String() != res.Text {
		t.Errorf("OnDelta saw %q, final text %q", streamed.String(), res.Text)
	}
	if len(res.PendingToolCalls) != 0 {
		t.Errorf("completed run has pending calls: %v", res.PendingToolCalls)
	}
}

func TestRunSuspendsOnToolCallAndResumes(t *testing.T) {
	call := conversation.ToolCall{ID: "call_1", Name: "census", Arguments: map[string]any{"lat": 39.0}}
	client := &scriptedStreamClient{scripts: [][]StreamEvent{
		{
			{Kind: EventTextDelta, Delta: "Let me check. "},
			{Kind: EventToolCallRequested, ToolCalls: []conversation.ToolCall{call}},
		},
		append(deltas("Population is 4,000."), StreamEvent{Kind: EventRunCompleted}),
	}}
	r := NewRunner(client)

	th := conversation.NewThread()
	th.AppendUser("how many people live there?")

	res, err := r.Run(context.Background(), th, "instructions", []tools.Definition{{Name: "census"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.PendingToolCalls) != 1 || res.PendingToolCalls[0].ID != "call_1" {
		t.Fatalf("PendingToolCalls = %v", res.PendingToolCalls)
	}
	if r.PausedRuns() != 1 {
		t.Fatalf("PausedRuns = %d, want 1", r.PausedRuns())
	}

	final, err := r.ResumeAfterTools(context.Background(), res.RunID, []ToolOutput{
		{CallID: "call_1", Output: "population: 4000"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if final.Text != "Population is 4,000." {
		t.Errorf("resumed Text = %q", final.Text)
	}
	if r.PausedRuns() != 0 {
		t.Errorf("PausedRuns = %d after resume, want 0", r.PausedRuns())
	}

	// The resumed request must replay the partial assistant turn and the
	// tool output.
	resumed := client.requests[1]
	last := resumed.Messages[len(resumed.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("last resumed message = %+v, want the tool output", last)
	}
	assistant := resumed.Messages[len(resumed.Messages)-2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Errorf("assistant turn not replayed before tool output: %+v", assistant)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	r := NewRunner(&scriptedStreamClient{})
	_, err := r.ResumeAfterTools(context.Background(), "never-paused", nil)
	if !errors.Is(err, ErrUnknownRun) {
		t.Errorf("err = %v, want ErrUnknownRun", err)
	}
}

func TestRunRefusesDanglingToolCall(t *testing.T) {
	r := NewRunner(&scriptedStreamClient{})
	th := conversation.NewThread()
	th.AppendUser("go")
	th.AppendAssistant("", []conversation.ToolCall{{ID: "c1", Name: "census"}})

	_, err := r.Run(context.Background(), th, "instructions", nil)
	if !errors.Is(err, ErrDanglingToolCall) {
		t.Errorf("err = %v, want ErrDanglingToolCall", err)
	}
}

func TestRunStreamClosedWithoutTerminal(t *testing.T) {
	client := &scriptedStreamClient{scripts: [][]StreamEvent{
		deltas("partial text then the connection dr"),
	}}
	r := NewRunner(client)

	th := conversation.NewThread()
	th.AppendUser("hello")

	_, err := r.Run(context.Background(), th, "instructions", nil)
	if !errors.Is(err, ErrStreamInterrupted) {
		t.Errorf("err = %v, want ErrStreamInterrupted", err)
	}
}

func TestRunStreamFailureEvent(t *testing.T) {
	boom := errors.New("backend 500")
	client := &scriptedStreamClient{scripts: [][]StreamEvent{
		{{Kind: EventRunFailed, Err: boom}},
	}}
	r := NewRunner(client)

	th := conversation.NewThread()
	th.AppendUser("hello")

	_, err := r.Run(context.Background(), th, "instructions", nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the backend error", err)
	}
}

func TestAbandonedRunsAccumulate(t *testing.T) {
	call := conversation.ToolCall{ID: "c1", Name: "census"}
	client := &scriptedStreamClient{scripts: [][]StreamEvent{
		{{Kind: EventToolCallRequested, ToolCalls: []conversation.ToolCall{call}}},
		{{Kind: EventToolCallRequested, ToolCalls: []conversation.ToolCall{call}}},
	}}
	r := NewRunner(client)

	for i := 0; i < 2; i++ {
		th := conversation.NewThread()
		th.AppendUser("go")
		if _, err := r.Run(context.Background(), th, "i", nil); err != nil {
			t.Fatal(err)
		}
	}
	// Never resumed: both stay paused until process exit.
	if r.PausedRuns() != 2 {
		t.Errorf("PausedRuns = %d, want 2", r.PausedRuns())
	}
}
