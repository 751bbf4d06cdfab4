package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/audio"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Source produces fixed-size audio blocks. Output is closed when the source
// is exhausted or stopped.
type Source interface {
	Start(ctx context.Context) error
	Output() <-chan audio.Block
	Stop()
}

// Handler receives every event of a run, in production order, from a single
// goroutine.
type Handler interface {
	HandleEvent(ctx context.Context, ev vad.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev vad.Event)

// HandleEvent calls fn.
func (fn HandlerFunc) HandleEvent(ctx context.Context, ev vad.Event) { fn(ctx, ev) }

// FrameObserver is implemented by handlers that need the samples behind each
// frame index. ObserveFrame runs before the frame is submitted; a nil
// samples slice withdraws a frame the session did not accept.
type FrameObserver interface {
	ObserveFrame(index int64, samples []float32)
}

// Result summarises a finished run.
type Result struct {
	SessionID string
	Frames    int64
	Skipped   int64
	Events    int64
	Segments  []vad.Segment
	Open      bool
}

// Pipeline connects one Source to one Scorer.
type Pipeline struct {
	source   Source
	scorer   vad.Scorer
	cfg      vad.Config
	opts     []vad.Option
	handlers []Handler

	skipped atomic.Int64
	events  atomic.Int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHandler adds an event handler.
func WithHandler(h Handler) Option {
	return func(p *Pipeline) { p.handlers = append(p.handlers, h) }
}

// WithSessionOptions passes engine options to the session.
func WithSessionOptions(opts ...vad.Option) Option {
	return func(p *Pipeline) { p.opts = append(p.opts, opts...) }
}

// New creates a pipeline.
func New(source Source, scorer vad.Scorer, cfg vad.Config, opts ...Option) *Pipeline {
	p := &Pipeline{source: source, scorer: scorer, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run streams the source until it ends or ctx is cancelled, then drains the
// session so every accepted frame produces its events.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	sess, err := vad.Start(p.cfg, p.scorer, p.opts...)
	if err != nil {
		return Result{}, err
	}
	ctx = trace.WithSession(ctx, sess.ID())
	log := trace.Logger(ctx)

	if err := p.source.Start(ctx); err != nil {
		_ = sess.Stop(context.Background())
		return Result{SessionID: sess.ID()}, err
	}
	defer p.source.Stop()

	tracker := vad.NewSegmentTracker(p.cfg)
	var g errgroup.Group
	g.Go(func() error { return p.pump(ctx, sess, log) })
	g.Go(func() error { return p.dispatch(context.WithoutCancel(ctx), sess, tracker) })
	err = g.Wait()

	_, open := tracker.Open()
	res := Result{
		SessionID: sess.ID(),
		Frames:    sess.Stats().Processed,
		Skipped:   p.skipped.Load(),
		Events:    p.events.Load(),
		Segments:  tracker.Segments(),
		Open:      open,
	}
	log.Info("pipeline finished",
		"frames", res.Frames,
		"skipped", res.Skipped,
		"segments", len(res.Segments))
	return res, err
}

// pump submits source blocks until the source closes, ctx ends or the
// session stops, then stops the session.
func (p *Pipeline) pump(ctx context.Context, sess *vad.Session, log *slog.Logger) error {
	var next int64
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case blk, ok := <-p.source.Output():
			if !ok {
				break loop
			}
			if len(blk.Samples) != p.cfg.BlockSize {
				p.skipped.Add(1)
				log.Debug("skipping short block", "source", blk.Source, "samples", len(blk.Samples))
				continue
			}
			p.observe(next, blk.Samples)
			if _, err := sess.Submit(ctx, blk.Samples); err != nil {
				p.observe(next, nil)
				if errors.Is(err, vad.ErrQueueFull) {
					p.skipped.Add(1)
					continue
				}
				break loop
			}
			next++
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StopTimeout)
	defer cancel()
	return sess.Stop(stopCtx)
}

func (p *Pipeline) observe(index int64, samples []float32) {
	for _, h := range p.handlers {
		if o, ok := h.(FrameObserver); ok {
			o.ObserveFrame(index, samples)
		}
	}
}

// dispatch delivers events until the session's stream ends.
func (p *Pipeline) dispatch(ctx context.Context, sess *vad.Session, tracker *vad.SegmentTracker) error {
	for {
		ev, err := sess.Next(ctx)
		if errors.Is(err, vad.ErrEnded) {
			return nil
		}
		if err != nil {
			return err
		}
		p.events.Add(1)
		tracker.Observe(ev)
		for _, h := range p.handlers {
			h.HandleEvent(ctx, ev)
		}
	}
}
