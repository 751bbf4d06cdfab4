package vad

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
)

type itemKind int

const (
	itemFrame itemKind = iota
	itemReconfigure
	itemStop
)

// item is one entry of the inbound queue. Control messages share the queue
// with frames so the worker applies them between frames, in submission order.
type item struct {
	kind  itemKind
	frame Frame
	cfg   Config
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Submitted int64
	Processed int64
	Rejected  int64
	InSpeech  bool
}

// Session is one streaming run: a bounded inbound queue drained by a single
// worker that scores, classifies and publishes events. The zero value is a
// session that was never started.
type Session struct {
	id      string
	cfg     Config
	scorer  Scorer
	opts    options
	log     *slog.Logger
	metrics *observe.Metrics

	in       chan item
	events   chan Event
	stopping chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// mu serialises enqueueing so frame indices match queue order.
	mu        sync.Mutex
	stopped   bool
	nextIndex int64

	stopOnce sync.Once
	stopErr  error

	errMu    sync.Mutex
	failure  error
	reported bool
	unusable atomic.Bool

	submitted atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
	inSpeech  atomic.Bool
}

var closedEvents = func() chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}()

// Start validates cfg, resets the scorer and spawns the session worker.
func Start(cfg Config, scorer Scorer, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "scorer is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.Noop()
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := scorer.Reset(ctx); err != nil {
		cancel()
		return nil, apperrors.Wrap(err, apperrors.CodeAdapterFailed, ErrAdapterFailed.Message)
	}

	s := &Session{
		id:       o.sessionID,
		cfg:      cfg,
		scorer:   scorer,
		opts:     o,
		log:      o.logger.With("session_id", o.sessionID),
		metrics:  o.metrics,
		in:       make(chan item, o.queueSize),
		events:   make(chan Event, o.eventBuffer),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	go s.run()

	s.log.Debug("vad session started",
		"sample_rate", cfg.SampleRate,
		"block_size", cfg.BlockSize,
		"threshold", cfg.Threshold,
		"min_speech_frames", cfg.MinSpeechFrames,
		"min_silence_frames", cfg.MinSilenceFrames,
		"queue_size", o.queueSize,
		"backpressure", o.backpressure.String())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Config returns the configuration the session was started with.
func (s *Session) Config() Config { return s.cfg }

// Submit copies samples into a new frame and enqueues it. It returns the
// frame index assigned at ingestion.
func (s *Session) Submit(ctx context.Context, samples []float32) (int64, error) {
	if s == nil || s.in == nil {
		return 0, ErrNotStarted
	}
	if len(samples) != s.cfg.BlockSize {
		return 0, apperrors.New(apperrors.CodeMalformedFrame, ErrMalformedFrame.Message).
			WithMetadata("want", strconv.Itoa(s.cfg.BlockSize)).
			WithMetadata("got", strconv.Itoa(len(samples)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptingLocked(); err != nil {
		return 0, err
	}

	idx := s.nextIndex
	buf := make([]float32, len(samples))
	copy(buf, samples)
	if err := s.enqueueLocked(ctx, item{kind: itemFrame, frame: Frame{Index: idx, Samples: buf}}); err != nil {
		if apperrors.IsCode(err, apperrors.CodeQueueFull) {
			s.rejected.Add(1)
			s.metrics.RecordDrop(ctx, observe.DropReasonQueueFull)
		}
		return 0, err
	}
	s.nextIndex++
	s.submitted.Add(1)
	s.metrics.FramesSubmitted.Add(ctx, 1)
	return idx, nil
}

// Reconfigure validates cfg and queues it behind every frame accepted so far.
// Only threshold and run lengths may change.
func (s *Session) Reconfigure(ctx context.Context, cfg Config) error {
	if s == nil || s.in == nil {
		return ErrNotStarted
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SampleRate != s.cfg.SampleRate || cfg.BlockSize != s.cfg.BlockSize {
		return apperrors.New(apperrors.CodeConfigInvalid, "sample_rate and block_size cannot change on a live session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acceptingLocked(); err != nil {
		return err
	}
	// Control messages always wait for room.
	return s.sendLocked(ctx, item{kind: itemReconfigure, cfg: cfg})
}

func (s *Session) acceptingLocked() error {
	if s.stopped {
		return ErrStopped
	}
	select {
	case <-s.done:
		if err := s.failureErr(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStreamStopped, ErrStopped.Message)
		}
		return ErrStopped
	default:
	}
	return nil
}

func (s *Session) enqueueLocked(ctx context.Context, it item) error {
	if s.opts.backpressure == Reject {
		select {
		case s.in <- it:
			return nil
		default:
			return ErrQueueFull
		}
	}
	return s.sendLocked(ctx, it)
}

func (s *Session) sendLocked(ctx context.Context, it item) error {
	select {
	case s.in <- it:
		return nil
	case <-s.stopping:
		return ErrStopped
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the outbound channel. It is closed once the worker exits
// and must be drained for the worker to make progress.
func (s *Session) Events() <-chan Event {
	if s == nil || s.events == nil {
		return closedEvents
	}
	return s.events
}

// Next blocks for the next event. After the stream ends it returns the
// scorer failure once, then ErrEnded.
func (s *Session) Next(ctx context.Context) (Event, error) {
	if s == nil || s.events == nil {
		return Event{}, ErrNotStarted
	}
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.takeFailure(); err != nil {
			return Event{}, err
		}
		return Event{}, ErrEnded
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Stop rejects further submissions, lets the worker finish every accepted
// frame and waits for it up to the stop timeout. It is idempotent: later
// calls return nil unless a scorer failure is still unreported.
func (s *Session) Stop(ctx context.Context) error {
	if s == nil || s.in == nil {
		return ErrNotStarted
	}
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.stopErr = s.shutdown(ctx)
	})
	if first && s.stopErr != nil {
		return s.stopErr
	}
	return s.takeFailure()
}

func (s *Session) shutdown(ctx context.Context) error {
	close(s.stopping)
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.stopTimeout)
	defer timer.Stop()

	select {
	case s.in <- item{kind: itemStop}:
	case <-s.done:
		return nil
	case <-timer.C:
		return s.forceStop(ctx, nil)
	case <-ctx.Done():
		return s.forceStop(ctx, ctx.Err())
	}

	select {
	case <-s.done:
		s.log.Debug("vad session stopped", "processed", s.processed.Load())
		return nil
	case <-timer.C:
		return s.forceStop(ctx, nil)
	case <-ctx.Done():
		return s.forceStop(ctx, ctx.Err())
	}
}

func (s *Session) forceStop(ctx context.Context, cause error) error {
	s.cancel()
	s.unusable.Store(true)
	s.metrics.RecordSessionError(ctx, string(apperrors.CodeShutdownTimeout))
	s.log.Warn("vad worker did not stop in time, cancelled",
		"timeout", s.opts.stopTimeout,
		"submitted", s.submitted.Load(),
		"processed", s.processed.Load())
	return apperrors.Wrap(cause, apperrors.CodeShutdownTimeout, ErrShutdownTimeout.Message)
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	if s == nil || s.done == nil {
		return closedDone
	}
	return s.done
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Err reports the scorer failure that ended the worker, if any, without
// consuming it.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	return s.failureErr()
}

// Unusable reports whether Stop had to cancel the worker.
func (s *Session) Unusable() bool { return s != nil && s.unusable.Load() }

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		Submitted: s.submitted.Load(),
		Processed: s.processed.Load(),
		Rejected:  s.rejected.Load(),
		InSpeech:  s.inSpeech.Load(),
	}
}

func (s *Session) failureErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.failure
}

func (s *Session) takeFailure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.failure == nil || s.reported {
		return nil
	}
	s.reported = true
	return s.failure
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	s.failure = err
	s.errMu.Unlock()
	s.metrics.RecordSessionError(s.ctx, string(apperrors.CodeOf(err)))
	s.log.Error("vad scorer failed, session ended", "error", err, "processed", s.processed.Load())
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	cls := NewClassifier(s.cfg)
	var batch []Event
	for {
		select {
		case it := <-s.in:
			switch it.kind {
			case itemStop:
				return
			case itemReconfigure:
				cls.Reconfigure(it.cfg)
				s.log.Debug("vad session reconfigured",
					"threshold", it.cfg.Threshold,
					"min_speech_frames", it.cfg.MinSpeechFrames,
					"min_silence_frames", it.cfg.MinSilenceFrames,
					"at_index", cls.NextIndex())
			case itemFrame:
				prob, err := s.score(it.frame)
				if err != nil {
					if s.ctx.Err() == nil {
						s.fail(err)
					}
					return
				}
				batch = cls.Process(prob, batch[:0])
				s.processed.Add(1)
				s.inSpeech.Store(cls.InSpeech())
				s.metrics.FramesProcessed.Add(s.ctx, 1)
				if !s.publish(batch) {
					return
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) score(f Frame) (float32, error) {
	start := time.Now()
	prob, err := s.scorer.Score(s.ctx, f)
	s.metrics.ScoreDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeAdapterFailed, ErrAdapterFailed.Message).
			WithMetadata("frame", strconv.FormatInt(f.Index, 10))
	}
	if isNaN32(prob) {
		return 0, apperrors.New(apperrors.CodeAdapterFailed, ErrAdapterFailed.Message).
			WithMetadata("frame", strconv.FormatInt(f.Index, 10)).
			WithMetadata("reason", "NaN probability")
	}
	return prob, nil
}

func (s *Session) publish(evs []Event) bool {
	for _, ev := range evs {
		select {
		case s.events <- ev:
			s.metrics.RecordEvent(s.ctx, ev.Type.String())
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}
