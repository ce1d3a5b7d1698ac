package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"wildfiregpt/internal/conversation"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Schema: Schema{
			Required:   []string{"text"},
			Properties: map[string]Property{"text": {Type: "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return TextResult("echo: " + args["text"].(string))
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("echo")); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("duplicate register error = %v, want ErrToolAlreadyRegistered", err)
	}
	if err := r.Register(&Tool{Name: ""}); !errors.Is(err, ErrToolNameEmpty) {
		t.Errorf("empty name error = %v, want ErrToolNameEmpty", err)
	}
	if !r.Has("echo") || r.Count() != 1 {
		t.Errorf("registry state wrong: has=%v count=%d", r.Has("echo"), r.Count())
	}
}

func TestDispatchFirstHonorsOnlyFirstCall(t *testing.T) {
	r := NewRegistry()
	var calls []string
	for _, name := range []string{"first", "second"} {
		name := name
		r.MustRegister(&Tool{
			Name: name,
			Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
				calls = append(calls, name)
				return TextResult(name + " ran")
			},
		})
	}

	d := NewDispatcher(r, "")
	outcome, ok := d.DispatchFirst(context.Background(), []conversation.ToolCall{
		{ID: "c1", Name: "first"},
		{ID: "c2", Name: "second"},
	})
	if !ok {
		t.Fatal("DispatchFirst returned ok=false")
	}
	if outcome.Text != "first ran" {
		t.Errorf("outcome text = %q", outcome.Text)
	}
	if len(calls) != 1 || calls[0] != "first" {
		t.Errorf("executed tools = %v, want only the first call honored", calls)
	}

	if _, ok := d.DispatchFirst(context.Background(), nil); ok {
		t.Error("empty call list should report ok=false")
	}
}

func TestDispatchFailuresProduceFallbackText(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("echo"))
	r.MustRegister(&Tool{
		Name: "broken",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, errors.New("upstream data source down")
		},
	})
	r.MustRegister(&Tool{
		Name: "panicky",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			panic("boom")
		},
	})

	const fallback = "Sorry, that didn't work."
	d := NewDispatcher(r, fallback)

	tests := []struct {
		name string
		call conversation.ToolCall
	}{
		{"unknown tool", conversation.ToolCall{ID: "c1", Name: "nope"}},
		{"malformed arguments", conversation.ToolCall{ID: "c2", Name: "echo", RawArguments: `{"text": `}},
		{"missing required argument", conversation.ToolCall{ID: "c3", Name: "echo", Arguments: map[string]any{}}},
		{"tool error", conversation.ToolCall{ID: "c4", Name: "broken"}},
		{"tool panic", conversation.ToolCall{ID: "c5", Name: "panicky"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := d.Dispatch(context.Background(), tt.call)
			if outcome.Kind != OutcomeText {
				t.Fatalf("Kind = %v, want OutcomeText", outcome.Kind)
			}
			if outcome.Text != fallback {
				t.Errorf("Text = %q, want fallback", outcome.Text)
			}
			if outcome.Err == nil {
				t.Error("Err not recorded for diagnostics")
			}
		})
	}
}

func TestDispatchTransitionNeverSurfacesAsText(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name:       "plan_complete",
		Completion: true,
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{Transition: &Transition{Stage: "analyst", NewThread: true}}, nil
		},
	})

	d := NewDispatcher(r, "")
	outcome := d.Dispatch(context.Background(), conversation.ToolCall{ID: "c1", Name: "plan_complete"})
	if outcome.Kind != OutcomeTransition {
		t.Fatalf("Kind = %v, want OutcomeTransition", outcome.Kind)
	}
	if outcome.Text != "" {
		t.Errorf("transition outcome carries text %q; control signals must not leak into the conversation", outcome.Text)
	}
	if outcome.Transition == nil || outcome.Transition.Stage != "analyst" || !outcome.Transition.NewThread {
		t.Errorf("Transition = %+v", outcome.Transition)
	}
}

func TestDispatchAppendixAndDefaults(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name:     "with_appendix",
		Appendix: " (values are seasonal averages)",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return TextResult("FWI is 12")
		},
	})
	r.MustRegister(&Tool{
		Name: "silent",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{}, nil
		},
	})

	d := NewDispatcher(r, "")

	got := d.Dispatch(context.Background(), conversation.ToolCall{ID: "c1", Name: "with_appendix"})
	if want := "FWI is 12 (values are seasonal averages)"; got.Text != want {
		t.Errorf("Text = %q, want %q", got.Text, want)
	}

	got = d.Dispatch(context.Background(), conversation.ToolCall{ID: "c2", Name: "silent"})
	if got.Text != "Success!" {
		t.Errorf("empty result Text = %q, want %q", got.Text, "Success!")
	}
}

func TestDispatchCollectsVisualizations(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name: "mapped",
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{
				Text:   "here",
				Maps:   []Artifact{{Kind: ArtifactMap, Title: "Location"}},
				Charts: []Artifact{{Kind: ArtifactChart, Title: "Trend"}},
			}, nil
		},
	})

	d := NewDispatcher(r, "")
	outcome := d.Dispatch(context.Background(), conversation.ToolCall{ID: "c1", Name: "mapped"})
	if len(outcome.Visualizations) != 2 {
		t.Fatalf("Visualizations = %d, want 2", len(outcome.Visualizations))
	}
	if outcome.Visualizations[0].Kind != ArtifactMap || outcome.Visualizations[1].Kind != ArtifactChart {
		t.Error("visualizations out of tool-return order (maps then charts)")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.MustRegister(&Tool{Name: name, Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			return TextResult("ok")
		}})
	}
	names := r.Names()
	if strings.Join(names, ",") != "alpha,mid,zeta" {
		t.Errorf("Names() = %v, want sorted", names)
	}
}
