package tools

import "errors"

// Tool registry and dispatch errors.
var (
	// ErrToolNotFound is returned when the LLM names a tool that is not
	// registered for the active stage.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMalformedArguments is returned when the LLM produced tool
	// arguments that do not parse as a flat JSON object.
	ErrMalformedArguments = errors.New("malformed tool arguments")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")
)
