// Package trace carries W3C-style trace ids and the streaming session id
// through contexts, HTTP headers, gRPC metadata and log records.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Metadata keys for gRPC/HTTP propagation.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	SessionIDKey    = "x-session-id"
)

type ctxKey struct{}

// Context holds trace identifiers for a single span and, for streaming
// work, the VAD session it belongs to.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	SessionID    string
}

// New creates a new trace context with fresh IDs.
func New() Context {
	return Context{TraceID: newID(16), SpanID: newID(8)}
}

// NewChild creates a child span that keeps the trace and session.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       newID(8),
		ParentSpanID: parent.SpanID,
		SessionID:    parent.SessionID,
	}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession tags the context's trace with a VAD session id, creating a
// trace if there is none.
func WithSession(ctx context.Context, sessionID string) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.SessionID = sessionID
	return WithContext(ctx, tc)
}

// SessionID returns the session id carried by ctx, if any.
func SessionID(ctx context.Context) string {
	tc, _ := FromContext(ctx)
	return tc.SessionID
}

// newID returns n random bytes hex-encoded (16 for trace ids, 8 for spans).
func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ToMap exports context as string map for gRPC metadata.
func (c Context) ToMap() map[string]string {
	m := map[string]string{
		TraceIDKey: c.TraceID,
		SpanIDKey:  c.SpanID,
	}
	if c.ParentSpanID != "" {
		m[ParentSpanIDKey] = c.ParentSpanID
	}
	if c.SessionID != "" {
		m[SessionIDKey] = c.SessionID
	}
	return m
}

// FromMap continues a trace received from a caller: the caller's span
// becomes the parent of a fresh span.
func FromMap(m map[string]string) Context {
	tc := Context{
		TraceID:      m[TraceIDKey],
		SpanID:       newID(8),
		ParentSpanID: m[SpanIDKey],
		SessionID:    m[SessionIDKey],
	}
	if tc.TraceID == "" {
		tc.TraceID = newID(16)
	}
	return tc
}

func (c Context) logArgs() []any {
	args := make([]any, 0, 8)
	args = append(args, "trace_id", c.TraceID, "span_id", c.SpanID)
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.SessionID != "" {
		args = append(args, "session_id", c.SessionID)
	}
	return args
}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan begins a new span under whatever trace ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc := New()
	if parent, ok := FromContext(ctx); ok && parent.TraceID != "" {
		tc = NewChild(parent)
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), Attrs: make(map[string]any)}
	return WithContext(ctx, tc), s
}

// End marks the span as complete.
func (s *Span) End() { s.EndTime = time.Now() }

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) { s.Attrs[key] = val }

// Duration returns span duration, or zero while the span is open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Ctx.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", s.Ctx.SessionID))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns slog.Default() annotated with ctx's trace and session ids.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}
