// Package tools implements the capability dispatcher backing model tool
// calls during a realtime practice session and during scoring.
//
// A [Dispatcher] holds a registry of named capabilities: built-in Go
// functions ([RegisterBuiltins]) and tools imported from external MCP servers
// ([Dispatcher.RegisterMCPServer]). Execution is capped by a weighted
// semaphore so a burst of model tool calls cannot exhaust the process;
// waiters are admitted in FIFO order.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// ErrUnknownCapability is returned by [Dispatcher.Execute] when no capability
// with the requested name is registered. Unknown names fail closed; they are
// never forwarded anywhere.
var ErrUnknownCapability = errors.New("unknown capability")

// DefaultMaxConcurrent is the default cap on concurrently executing
// capabilities.
const DefaultMaxConcurrent = 4

// Capability is a single executable tool exposed to the model.
type Capability interface {
	// Definition describes the capability for the model's tool catalogue.
	Definition() llm.ToolDefinition

	// Invoke executes the capability. The returned payload must be a JSON
	// value; an error indicates the capability itself failed.
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMaxConcurrent overrides the concurrent execution cap.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = int64(n)
		}
	}
}

// WithMetrics attaches a metrics instance. When nil, no metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher routes tool calls by name to registered capabilities.
//
// Registration is not synchronised with execution; register every capability
// before handing the Dispatcher to a session.
type Dispatcher struct {
	caps    map[string]Capability
	limit   int64
	sem     *semaphore.Weighted
	metrics *observe.Metrics
	log     *slog.Logger

	// closers shut down external MCP sessions on Close.
	closers []func() error
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		caps:  make(map[string]Capability),
		limit: DefaultMaxConcurrent,
		log:   slog.Default().With("component", "tools.dispatcher"),
	}
	for _, o := range opts {
		o(d)
	}
	d.sem = semaphore.NewWeighted(d.limit)
	return d
}

// Register adds cap to the registry. A capability with the same name is
// replaced.
func (d *Dispatcher) Register(cap Capability) {
	d.caps[cap.Definition().Name] = cap
}

// Definitions returns the tool catalogue for every registered capability,
// suitable for a live session config or a completion request.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(d.caps))
	for _, c := range d.caps {
		defs = append(defs, c.Definition())
	}
	return defs
}

// Execute runs the named capability with args and returns its JSON payload.
// Concurrent executions beyond the configured cap queue in FIFO order.
// An unregistered name returns [ErrUnknownCapability] without executing
// anything.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	c, ok := d.caps[name]
	if !ok {
		return nil, fmt.Errorf("tools: %w: %q", ErrUnknownCapability, name)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("tools: acquire slot for %q: %w", name, err)
	}
	defer d.sem.Release(1)

	start := time.Now()
	payload, err := c.Invoke(ctx, args)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		d.log.Warn("capability failed", "tool", name, "error", err)
	}
	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, name, status)
		d.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("tools: %s: %w", name, err)
	}
	return payload, nil
}

// ExecuteSafe runs Execute and converts any failure into an {"error": ...}
// payload instead of an error. Session tool handlers use it so a capability
// failure is reported to the model rather than faulting the session.
func (d *Dispatcher) ExecuteSafe(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	payload, err := d.Execute(ctx, name, args)
	if err != nil {
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		return msg
	}
	return payload
}

// Close shuts down all external MCP server sessions.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, fn := range d.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
