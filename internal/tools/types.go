// Package tools provides the tool registry and dispatcher for WildfireGPT.
//
// Tools are declared per stage in configuration and invoked by name when the
// LLM requests them. A tool either produces text (plus optional visualization
// artifacts) or signals a stage transition; the two cases are kept as an
// explicit tagged outcome so control signals can never collide with
// legitimate tool output.
package tools

import (
	"context"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Schema defines the JSON schema for tool arguments.
// This enables LLM tool calling with proper validation.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ArtifactKind distinguishes visualization artifact types.
type ArtifactKind string

const (
	ArtifactMap   ArtifactKind = "map"
	ArtifactChart ArtifactKind = "chart"
)

// Artifact is an opaque visualization descriptor produced by a tool. The
// orchestrator never inspects the spec; rendering is the front end's problem.
type Artifact struct {
	Kind  ArtifactKind   `json:"kind"`
	Title string         `json:"title"`
	Spec  map[string]any `json:"spec,omitempty"`
}

// Transition signals that the active stage should change. Returned by a
// stage's completion tool instead of ordinary text.
type Transition struct {
	// Stage names the stage to activate.
	Stage string

	// NewThread requests a fresh thread for the next stage.
	NewThread bool

	// Args carries accumulated state forward (profile checklist, plan).
	Args map[string]string

	// FollowUp, when non-empty, is submitted as the tool output on the
	// paused run before the transition takes effect.
	FollowUp string
}

// Result is what a tool implementation returns. Exactly one of Text or
// Transition is meaningful; Maps and Charts accompany Text.
type Result struct {
	Text   string
	Maps   []Artifact
	Charts []Artifact

	// Transition, when non-nil, is intercepted by the stage controller and
	// never surfaces as conversational text.
	Transition *Transition
}

// TextResult is a convenience constructor for plain text results.
func TextResult(text string) (*Result, error) {
	return &Result{Text: text}, nil
}

// ExecuteFunc is the signature for tool execution. Arguments are the flat
// parameter map supplied by the LLM. Implementations must not touch the
// thread; everything they need arrives through args.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Tool defines a callable tool registered for a stage.
type Tool struct {
	// Name is the unique identifier the LLM calls the tool by.
	Name string

	// Description explains what the tool does, for LLM tool calling.
	Description string

	// Schema defines the expected arguments.
	Schema Schema

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Appendix is static explanatory text appended to successful results
	// before they become a tool turn.
	Appendix string

	// Completion marks the stage's completion tool. Its invocation signals
	// "advance to the next stage".
	Completion bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition is the provider-facing tool declaration sent to the LLM.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"parameters"`
}

// Definition returns the provider-facing declaration for this tool.
func (t *Tool) Definition() Definition {
	return Definition{
		Name:        t.Name,
		Description: t.Description,
		Schema:      t.Schema,
	}
}
