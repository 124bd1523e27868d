// Package tools holds the tool registry offered to the language model.
//
// A [Registry] combines in-process Go tools with tools imported from Model
// Context Protocol servers. The assistant passes [Registry.Schemas] with every
// completion request and routes the model's tool calls through
// [Registry.Execute].
//
// Typical usage:
//
//	r := tools.New()
//	defer r.Close()
//
//	_ = r.Register(builtin.CurrentTime(time.Now))
//	_ = r.ConnectServer(ctx, config.MCPServerConfig{
//	    Name:      "files",
//	    Transport: config.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-files",
//	})
//
//	out, err := r.Execute(ctx, "current_time", `{"timezone":"UTC"}`)
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/types"
)

// ErrToolNotFound is returned by [Registry.Execute] for names that were never
// registered.
var ErrToolNotFound = errors.New("tools: tool not found")

const (
	// defaultWindowSize is the number of recent calls kept per tool.
	defaultWindowSize = 100

	// defaultTimeout bounds a call to a tool without MaxDurationMs.
	defaultTimeout = 30 * time.Second
)

// Handler executes a tool with JSON-encoded args and returns its textual
// result. Implementations must respect context cancellation.
type Handler func(ctx context.Context, args string) (string, error)

// Tool is an in-process tool.
type Tool struct {
	// Definition is the schema presented to the model.
	Definition types.ToolDefinition

	// Handler runs the tool.
	Handler Handler
}

// Stats summarises the recent calls of one tool.
type Stats struct {
	Calls     int
	P50       time.Duration
	P99       time.Duration
	ErrorRate float64
}

// entry is one registered tool, either in-process (fn set) or served by an
// MCP server.
type entry struct {
	def    types.ToolDefinition
	fn     Handler
	server string
	calls  *window
}

// Registry maps tool names to their implementations. It is safe for
// concurrent use. Create instances with [New].
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	sessions map[string]*mcpsdk.ClientSession

	client  *mcpsdk.Client
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration
}

// Option configures a [Registry].
type Option func(*Registry)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithDefaultTimeout bounds calls to tools that declare no MaxDurationMs.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:    make(map[string]*entry),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "hark", Version: "1.0.0"},
			nil,
		),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Register adds an in-process tool, replacing any tool of the same name.
func (r *Registry) Register(t Tool) error {
	if t.Definition.Name == "" {
		return errors.New("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", t.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = &entry{
		def:   t.Definition,
		fn:    t.Handler,
		calls: newWindow(defaultWindowSize),
	}
	return nil
}

// Schemas returns every tool definition sorted by name.
func (r *Registry) Schemas() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute runs the named tool with JSON-encoded args. Unknown names fail with
// [ErrToolNotFound]. A tool error is returned as an error; the caller decides
// whether to show it to the model.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordToolCall(ctx, name, "not_found")
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	timeout := r.timeout
	if e.def.MaxDurationMs > 0 {
		timeout = time.Duration(e.def.MaxDurationMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		out string
		err error
	)
	if e.fn != nil {
		out, err = e.fn(ctx, args)
	} else {
		out, err = r.callServer(ctx, e, args)
	}
	elapsed := time.Since(start)

	r.mu.Lock()
	e.calls.record(elapsed, err != nil)
	r.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordToolCall(ctx, name, status)
	r.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("tool", name)))

	if err != nil {
		r.log.Warn("tools: call failed", "tool", name, "duration", elapsed, "err", err)
		return "", fmt.Errorf("tools: %s: %w", name, err)
	}
	r.log.Debug("tools: call finished", "tool", name, "duration", elapsed)
	return out, nil
}

// Stats reports the recent calls of the named tool.
func (r *Registry) Stats(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Calls:     e.calls.total,
		P50:       e.calls.percentile(0.5),
		P99:       e.calls.percentile(0.99),
		ErrorRate: e.calls.errorRate(),
	}, true
}

// Close disconnects every MCP server and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, s := range r.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tools: close server %q: %w", name, err))
		}
	}
	r.sessions = make(map[string]*mcpsdk.ClientSession)
	r.tools = make(map[string]*entry)
	return errors.Join(errs...)
}
