package vad

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
)

// Backpressure selects what Submit does when the inbound queue is full.
type Backpressure int

const (
	// Block waits for room or for the caller's context.
	Block Backpressure = iota
	// Reject fails fast with ErrQueueFull.
	Reject
)

func (b Backpressure) String() string {
	if b == Reject {
		return "reject"
	}
	return "block"
}

// ParseBackpressure maps "block" or "reject" to a policy.
func ParseBackpressure(s string) (Backpressure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "reject":
		return Reject, nil
	default:
		return Block, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

type options struct {
	queueSize    int
	eventBuffer  int
	backpressure Backpressure
	stopTimeout  time.Duration
	logger       *slog.Logger
	metrics      *observe.Metrics
	sessionID    string
}

// Option configures a Session.
type Option func(*options)

// WithQueueSize bounds the inbound frame queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithEventBuffer sizes the outbound event channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}

// WithBackpressure sets the full-queue policy.
func WithBackpressure(b Backpressure) Option {
	return func(o *options) { o.backpressure = b }
}

// WithStopTimeout bounds how long Stop waits for the worker.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metric instruments. Nil disables metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

func defaultOptions() options {
	return options{
		queueSize:   DefaultQueueSize,
		eventBuffer: DefaultEventBuffer,
		stopTimeout: DefaultStopTimeout,
		logger:      slog.Default(),
	}
}
