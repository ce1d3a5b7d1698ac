// Package policy implements the per-turn decision point: a condensed
// conversation summary, a constrained intent classification (respond vs.
// proceed with the plan), and tool selection over the active stage's
// registry. The classification calls retry the same prompt at escalating
// temperature until the model produces an exact allowed answer, up to a
// configurable bound.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/perception"
)

// ErrPolicyExhausted is returned when the classification retry bound is
// exceeded. The turn surfaces a generic caution message instead of crashing.
var ErrPolicyExhausted = errors.New("classification retries exhausted")

// Constrained-choice literals. The intent literals match the original
// decision prompt exactly; the model must reproduce one verbatim.
const (
	IntentRespond = "Respond to the client's questions."
	IntentProceed = "Proceed with the plan."

	// NoToolNeeded is the null option offered alongside the stage's tools.
	NoToolNeeded = "no tool needed"
)

const summaryInstructions = "Summarize the conversation below in a concise paragraph. Preserve concrete facts the assistant will need later: locations, coordinates, the client's profession and concerns, datasets already discussed, and any commitments made."

// Config tunes the decision policy.
type Config struct {
	// MaxAttempts bounds each constrained-choice retry loop.
	MaxAttempts int

	// BaseTemperature is used on the first attempt.
	BaseTemperature float64

	// TemperatureStep is added per retry to shake the model out of
	// paraphrasing.
	TemperatureStep float64

	// MaxTokens caps the classification responses.
	MaxTokens int
}

// DefaultConfig returns the defaults used by the orchestrator.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseTemperature: 0.7,
		TemperatureStep: 0.1,
		MaxTokens:       50,
	}
}

// Policy asks the LLM what to do this turn. Its output is only ever used as
// extra instruction text; it never alters the stage's tool registry.
type Policy struct {
	client perception.Client
	cfg    Config
}

// New creates a decision policy over the given backend client.
func New(client perception.Client, cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Policy{client: client, cfg: cfg}
}

// Summarize requests a condensed natural-language summary of all prior
// turns, keeping LLM context bounded instead of replaying full history.
func (p *Policy) Summarize(ctx context.Context, thread *conversation.Thread) (string, error) {
	turns := thread.Turns()
	if len(turns) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, turn := range turns {
		if turn.Role == conversation.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}

	summary, err := p.client.CompleteWithSystem(ctx, summaryInstructions, b.String())
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	logging.PolicyDebug("Summary produced (%d chars from %d turns)", len(summary), len(turns))
	return strings.TrimSpace(summary), nil
}

// ClassifyIntent decides whether to respond to the client directly or
// proceed with the plan. Returns one of IntentRespond or IntentProceed.
func (p *Policy) ClassifyIntent(ctx context.Context, plan, summary, userMessage, assessmentInstructions string) (string, error) {
	system := p.contextMessage(plan, summary, userMessage)
	additional := []perception.Message{
		{Role: "system", Content: assessmentInstructions},
	}
	choice, err := p.constrainedChoice(ctx, system, additional, []string{IntentRespond, IntentProceed}, true)
	if err != nil {
		return "", err
	}
	logging.Policy("Intent: %s", choice)
	return choice, nil
}

// SelectTool picks at most one tool for this turn from the stage's
// registered names, or NoToolNeeded. The decision rides on the directive
// produced so far.
func (p *Policy) SelectTool(ctx context.Context, plan, summary, directive, stepInstructions string, toolNames []string) (string, error) {
	system := p.contextMessage(plan, summary, "")
	content := stepInstructions
	if directive != "" {
		content = fmt.Sprintf("You have decided to do the following: %s. %s", directive, stepInstructions)
	}
	additional := []perception.Message{
		{Role: "system", Content: content},
	}

	choices := append(append([]string{}, toolNames...), NoToolNeeded)
	choice, err := p.constrainedChoice(ctx, system, additional, choices, false)
	if err != nil {
		return "", err
	}
	logging.Policy("Tool selection: %s", choice)
	return choice, nil
}

// contextMessage assembles the shared system preamble for both
// classification calls.
func (p *Policy) contextMessage(plan, summary, userMessage string) string {
	var b strings.Builder
	if plan != "" {
		fmt.Fprintf(&b, "Here is your overall plan to assist your client:\n%s\n\n", plan)
	}
	fmt.Fprintf(&b, "Here is the summary of the conversation so far:\n%s\n\n", summary)
	if userMessage != "" {
		fmt.Fprintf(&b, "Here is the most recent message from the client:\n%s", userMessage)
	}
	return b.String()
}

// constrainedChoice retries the same prompt at escalating temperature until
// the response matches one of the allowed literals. With exact=false a
// response containing exactly one allowed literal as a substring is
// accepted. Exceeding the bound is ErrPolicyExhausted.
func (p *Policy) constrainedChoice(ctx context.Context, system string, additional []perception.Message, choices []string, exact bool) (string, error) {
	prompt := fmt.Sprintf("Choose exactly one of the following options and reply with it verbatim:\n- %s", strings.Join(choices, "\n- "))
	messages := append([]perception.Message{{Role: "system", Content: system}}, additional...)
	messages = append(messages, perception.Message{Role: "system", Content: prompt})

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		temperature := p.cfg.BaseTemperature + float64(attempt)*p.cfg.TemperatureStep
		response, err := p.client.Chat(ctx, messages, perception.ChatOptions{
			Temperature: temperature,
			MaxTokens:   p.cfg.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("classification call: %w", err)
		}
		response = strings.TrimSpace(response)

		if match, ok := matchChoice(response, choices, exact); ok {
			return match, nil
		}
		logging.PolicyDebug("Attempt %d: %q is not an allowed choice", attempt+1, response)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrPolicyExhausted, p.cfg.MaxAttempts)
}

func matchChoice(response string, choices []string, exact bool) (string, bool) {
	for _, choice := range choices {
		if response == choice {
			return choice, true
		}
	}
	if exact {
		return "", false
	}
	var found string
	count := 0
	for _, choice := range choices {
		if strings.Contains(response, choice) {
			found = choice
			count++
		}
	}
	if count == 1 {
		return found, true
	}
	return "", false
}
