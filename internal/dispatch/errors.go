package dispatch

import (
	"errors"
	"fmt"
)

// Startup-time registration faults. These are fatal; nothing recovers from
// a miswired registry.
var (
	ErrDuplicateTool  = errors.New("duplicate tool name")
	ErrRegistrySealed = errors.New("registry is sealed")
)

// ErrUnknownTool is returned when the model requests a tool that was never
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// ToolErrorKind classifies invocation failures.
type ToolErrorKind string

const (
	KindTimeout           ToolErrorKind = "timeout"
	KindCapabilityFailure ToolErrorKind = "capability_failure"
	KindMissingParameter  ToolErrorKind = "missing_required_parameter"
	KindUnknownParameter  ToolErrorKind = "unknown_parameter"
)

// ToolError is a recoverable invocation failure. It is surfaced back to the
// model as a tool-result string, never propagated as a system fault.
type ToolError struct {
	Tool   string
	Kind   ToolErrorKind
	Detail string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Detail)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
}

func (e *ToolError) Unwrap() error { return e.Err }
