package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrToolNotFound is returned when no registered tool matches the name.
var ErrToolNotFound = errors.New("tool not found")

// Dispatcher resolves tools by name, validates arguments against the
// declared parameter schema, applies the policy gates, and executes. It
// always runs off the event-streaming path.
type Dispatcher struct {
	registry *Registry
	guard    *PolicyGuard
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, guard *PolicyGuard, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, guard: guard, logger: logger}
}

// Definitions returns the JSON-schema tool definitions for the model.
func (d *Dispatcher) Definitions() []Definition {
	return d.registry.List()
}

// Resolve looks a tool up by case-insensitive name.
func (d *Dispatcher) Resolve(name string) (Tool, bool) {
	return d.registry.Get(name)
}

// Tools returns the registered tools for prompt rendering.
func (d *Dispatcher) Tools() []Tool {
	return d.registry.All()
}

// Dispatch executes the named tool with the raw model-produced input and
// returns its textual result. Policy gate refusals are returned as the
// result text, not as errors, so the loop records them as observations.
func (d *Dispatcher) Dispatch(ctx context.Context, name, rawInput string, tc Context) (string, error) {
	t, ok := d.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args := ParseArgs(rawInput)
	foldScalarInput(t, &args)
	if err := validateArgs(t, args); err != nil {
		return "", err
	}

	if msg, blocked := d.applyGates(ctx, t, args, tc); blocked {
		return msg, nil
	}

	start := time.Now()
	output, err := t.Execute(ctx, tc, args)
	duration := time.Since(start)

	if err != nil {
		d.logger.Error("Tool execution failed",
			zap.String("tool", t.Name()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return "", err
	}

	d.logger.Info("Tool execution completed",
		zap.String("tool", t.Name()),
		zap.Duration("duration", duration),
	)
	return output, nil
}

// applyGates evaluates the policy gates for the tool's kind before
// execution. Returns the canonical refusal message when blocked.
func (d *Dispatcher) applyGates(ctx context.Context, t Tool, args Args, tc Context) (string, bool) {
	switch t.Kind() {
	case KindRead, KindEdit:
		rawPath := args.String("path", true)
		if rawPath == "" {
			return "", false // missing path surfaces as a validation error downstream
		}
		action := "read"
		if t.Kind() == KindEdit {
			action = "write"
		}
		if _, decision := d.guard.GateFileAccess(ctx, tc, t.Name(), rawPath, action); !decision.Ok() {
			return decision.Message, true
		}
	case KindExecute:
		command := args.String("command", true)
		if command == "" {
			return "", false
		}
		if decision := d.guard.GateShell(ctx, tc, t.Name(), command); !decision.Ok() {
			return decision.Message, true
		}
	}
	return "", false
}

// foldScalarInput maps a non-JSON input string onto the tool's sole required
// scalar parameter so that plain-text tool inputs keep working.
func foldScalarInput(t Tool, args *Args) {
	if len(args.Values) > 0 || args.Raw == "" {
		return
	}
	var target *Parameter
	params := t.Parameters()
	for i := range params {
		if !params[i].Required {
			continue
		}
		if target != nil {
			return // more than one required parameter: nothing to fold onto
		}
		target = &params[i]
	}
	if target == nil && len(params) == 1 {
		target = &params[0]
	}
	if target == nil {
		return
	}
	args.Values[target.Name] = strings.TrimSpace(args.Raw)
}

func validateArgs(t Tool, args Args) error {
	for _, p := range t.Parameters() {
		if p.Required && !args.Has(p.Name) {
			return ErrMissingParameter(p.Name)
		}
	}
	return nil
}
