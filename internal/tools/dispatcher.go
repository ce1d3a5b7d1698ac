package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
)

// DefaultFallbackText is the user-visible tool output when execution fails
// and the stage configuration provides no fallback of its own.
const DefaultFallbackText = "Sorry, I couldn't find information about that. Let's try something else."

// OutcomeKind tags the dispatch outcome variant.
type OutcomeKind int

const (
	// OutcomeText is ordinary tool output destined for a tool turn.
	OutcomeText OutcomeKind = iota

	// OutcomeTransition is a stage-change signal intercepted by the
	// controller. No tool turn is appended for it.
	OutcomeTransition
)

// Outcome is the normalized result of dispatching one tool call.
type Outcome struct {
	Call conversation.ToolCall
	Kind OutcomeKind

	// Text is the tool turn content (OutcomeText only).
	Text string

	// Visualizations collects map and chart artifacts in tool-return order.
	Visualizations []Artifact

	// Transition is set for OutcomeTransition.
	Transition *Transition

	// Err records the underlying failure when Text is fallback text. The
	// conversation continues regardless; Err exists for logging and tests.
	Err error
}

// Dispatcher executes exactly one tool call per assistant turn and folds
// the result into a normalized outcome. All tool-level failures are
// contained here; nothing escapes as a raised error.
type Dispatcher struct {
	registry *Registry
	fallback string
}

// NewDispatcher creates a dispatcher over the given registry. An empty
// fallback selects DefaultFallbackText.
func NewDispatcher(registry *Registry, fallback string) *Dispatcher {
	if fallback == "" {
		fallback = DefaultFallbackText
	}
	return &Dispatcher{registry: registry, fallback: fallback}
}

// DispatchFirst honors only the first of the requested calls; the rest are
// dropped. Returns false if calls is empty.
func (d *Dispatcher) DispatchFirst(ctx context.Context, calls []conversation.ToolCall) (Outcome, bool) {
	if len(calls) == 0 {
		return Outcome{}, false
	}
	if len(calls) > 1 {
		logging.Tools("Model requested %d tool calls; dispatching only %s", len(calls), calls[0].Name)
	}
	return d.Dispatch(ctx, calls[0]), true
}

// Dispatch executes one tool call. Malformed arguments, unknown tools, and
// tool failures all produce a normal OutcomeText carrying fallback text so
// a single flaky data source never aborts the conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, call conversation.ToolCall) Outcome {
	timer := logging.StartTimer(logging.CategoryTools, "dispatch "+call.Name)
	defer timer.Stop()

	args, err := d.parseArguments(call)
	if err != nil {
		logging.Get(logging.CategoryTools).Error("Bad arguments for %s: %v", call.Name, err)
		return d.failure(call, err)
	}

	tool := d.registry.Get(call.Name)
	if tool == nil {
		logging.Get(logging.CategoryTools).Error("Unknown tool requested: %s", call.Name)
		return d.failure(call, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
	}

	if err := checkRequired(tool.Schema, args); err != nil {
		logging.Get(logging.CategoryTools).Error("Arguments for %s: %v", call.Name, err)
		return d.failure(call, err)
	}

	result, err := d.execute(ctx, tool, args)
	if err != nil {
		logging.Get(logging.CategoryTools).Error("Tool %s failed: %v", call.Name, err)
		return d.failure(call, err)
	}

	if result.Transition != nil {
		logging.Tools("Tool %s signalled transition to stage %q", call.Name, result.Transition.Stage)
		return Outcome{Call: call, Kind: OutcomeTransition, Transition: result.Transition}
	}

	text := result.Text
	if text == "" {
		text = "Success!"
	}
	if tool.Appendix != "" {
		text += tool.Appendix
	}

	visuals := make([]Artifact, 0, len(result.Maps)+len(result.Charts))
	visuals = append(visuals, result.Maps...)
	visuals = append(visuals, result.Charts...)

	logging.ToolsDebug("Tool %s succeeded (%d chars, %d artifacts)", call.Name, len(text), len(visuals))
	return Outcome{Call: call, Kind: OutcomeText, Text: text, Visualizations: visuals}
}

// execute invokes the tool, converting panics into errors.
func (d *Dispatcher) execute(ctx context.Context, tool *Tool, args map[string]any) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	result, err = tool.Execute(ctx, args)
	if err == nil && result == nil {
		err = fmt.Errorf("tool %s returned no result", tool.Name)
	}
	return result, err
}

func (d *Dispatcher) parseArguments(call conversation.ToolCall) (map[string]any, error) {
	if call.Arguments != nil {
		return call.Arguments, nil
	}
	raw := strings.TrimSpace(call.RawArguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	return args, nil
}

func (d *Dispatcher) failure(call conversation.ToolCall, err error) Outcome {
	return Outcome{Call: call, Kind: OutcomeText, Text: d.fallback, Err: err}
}

func checkRequired(schema Schema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, name)
		}
	}
	return nil
}
