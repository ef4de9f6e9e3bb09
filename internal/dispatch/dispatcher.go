package dispatch

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a tool invocation when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Dispatcher validates arguments against a tool's schema and executes the
// bound capability with a timeout. Each invocation runs in its own
// goroutine so long-running capabilities never stall the caller's event
// intake.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher over the given registry. timeout <= 0
// selects DefaultTimeout.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke validates args and calls the named tool. Validation failures never
// reach the capability backend. Capability failures are not retried here;
// retry policy belongs to the backend implementation.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("invoke %q: %w", name, ErrUnknownTool)
	}

	if err := validateArgs(name, tool.Params(), args); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Invoke(ctx, args)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", &ToolError{Tool: name, Kind: KindCapabilityFailure, Detail: out.err.Error(), Err: out.err}
		}
		return out.result, nil
	case <-ctx.Done():
		return "", &ToolError{Tool: name, Kind: KindTimeout, Err: ctx.Err()}
	}
}

func validateArgs(name string, params []Param, args map[string]any) error {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			return &ToolError{Tool: name, Kind: KindMissingParameter, Detail: p.Name}
		}
	}
	for arg := range args {
		if !known[arg] {
			return &ToolError{Tool: name, Kind: KindUnknownParameter, Detail: arg}
		}
	}
	return nil
}

// StringArg extracts an optional string argument.
func StringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}
