package policy

import (
	"context"
	"errors"
	"testing"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/perception"
)

// scriptedClient returns canned Chat responses in order and records the
// options of every call.
type scriptedClient struct {
	responses []string
	calls     int
	temps     []float64
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.next()
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.next()
}

func (c *scriptedClient) Chat(ctx context.Context, messages []perception.Message, opts perception.ChatOptions) (string, error) {
	c.temps = append(c.temps, opts.Temperature)
	return c.next()
}

func (c *scriptedClient) Stream(ctx context.Context, req perception.StreamRequest) (<-chan perception.StreamEvent, error) {
	return nil, errors.New("not used")
}

func (c *scriptedClient) next() (string, error) {
	if c.calls >= len(c.responses) {
		return "", errors.New("script exhausted")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func TestClassifyIntentExactMatchFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []string{IntentRespond}}
	p := New(client, DefaultConfig())

	got, err := p.ClassifyIntent(context.Background(), "", "summary", "what is FWI?", "assess")
	if err != nil {
		t.Fatal(err)
	}
	if got != IntentRespond {
		t.Errorf("intent = %q, want %q", got, IntentRespond)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
}

func TestClassifyIntentRetriesAtEscalatingTemperature(t *testing.T) {
	// Two paraphrases, then the exact literal on the third attempt.
	client := &scriptedClient{responses: []string{
		"I think I should respond to the client",
		"Respond to the client's questions",
		IntentProceed,
	}}
	cfg := Config{MaxAttempts: 3, BaseTemperature: 0.7, TemperatureStep: 0.1, MaxTokens: 50}
	p := New(client, cfg)

	got, err := p.ClassifyIntent(context.Background(), "the plan", "summary", "go on", "assess")
	if err != nil {
		t.Fatal(err)
	}
	if got != IntentProceed {
		t.Errorf("intent = %q, want %q", got, IntentProceed)
	}
	want := []float64{0.7, 0.8, 0.9}
	if len(client.temps) != len(want) {
		t.Fatalf("temps = %v, want %v", client.temps, want)
	}
	for i := range want {
		if client.temps[i] != want[i] {
			t.Errorf("attempt %d temperature = %v, want %v", i+1, client.temps[i], want[i])
		}
	}
}

func TestClassifyIntentExhaustion(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"maybe respond?", "hard to say", "let me think about it",
	}}
	p := New(client, Config{MaxAttempts: 3, BaseTemperature: 0.7, TemperatureStep: 0.1, MaxTokens: 50})

	_, err := p.ClassifyIntent(context.Background(), "", "summary", "hm", "assess")
	if !errors.Is(err, ErrPolicyExhausted) {
		t.Fatalf("err = %v, want ErrPolicyExhausted", err)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want exactly the retry bound", client.calls)
	}
}

func TestSelectToolAcceptsUniqueSubstring(t *testing.T) {
	tools := []string{"fire_weather_index", "census"}

	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{"exact name", "census", "census", false},
		{"name embedded in prose", "I will use the fire_weather_index tool here.", "fire_weather_index", false},
		{"no tool needed", NoToolNeeded, NoToolNeeded, false},
		{"ambiguous mention", "either fire_weather_index or census works", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{responses: []string{tt.response, tt.response, tt.response}}
			p := New(client, DefaultConfig())

			got, err := p.SelectTool(context.Background(), "", "summary", IntentProceed, "pick a tool", tools)
			if tt.wantErr {
				if !errors.Is(err, ErrPolicyExhausted) {
					t.Fatalf("err = %v, want ErrPolicyExhausted", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("SelectTool = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeSkipsSystemTurns(t *testing.T) {
	client := &scriptedClient{responses: []string{"a concise summary"}}
	p := New(client, DefaultConfig())

	th := conversation.NewThread()
	if got, err := p.Summarize(context.Background(), th); err != nil || got != "" {
		t.Errorf("empty thread Summarize = %q, %v; want empty, nil without a client call", got, err)
	}
	if client.calls != 0 {
		t.Errorf("Summarize on empty thread made %d client calls", client.calls)
	}

	th.Append(conversation.Turn{Role: conversation.RoleSystem, Content: "internal"})
	th.AppendUser("hello")

	got, err := p.Summarize(context.Background(), th)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a concise summary" {
		t.Errorf("Summarize = %q", got)
	}
}
