package audiofile

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/audio"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Source replays samples as audio.Blocks, optionally paced at real time and
// followed by trailing silence so an open speech segment can close.
type Source struct {
	name     string
	blocks   [][]float32
	interval time.Duration
	outCh    chan audio.Block

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithRealtime paces blocks at one block duration each.
func WithRealtime(blockDur time.Duration) SourceOption {
	return func(s *Source) { s.interval = blockDur }
}

// WithTrailingSilence appends n zero blocks after the audio.
func WithTrailingSilence(n int) SourceOption {
	return func(s *Source) {
		if len(s.blocks) == 0 {
			return
		}
		size := len(s.blocks[0])
		for range n {
			s.blocks = append(s.blocks, make([]float32, size))
		}
	}
}

// NewSource splits samples into blockSize blocks, zero-padding the last one.
func NewSource(name string, samples []float32, blockSize int, opts ...SourceOption) *Source {
	s := &Source{
		name:   name,
		blocks: vad.Chunk(samples, blockSize),
		outCh:  make(chan audio.Block),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of blocks the source will emit.
func (s *Source) Len() int { return len(s.blocks) }

// Output returns the block channel, closed after the last block.
func (s *Source) Output() <-chan audio.Block { return s.outCh }

// Start begins emitting blocks. Cancelling ctx or calling Stop ends early.
func (s *Source) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
	return nil
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.outCh)

	var tick *time.Ticker
	if s.interval > 0 {
		tick = time.NewTicker(s.interval)
		defer tick.Stop()
	}
	start := time.Now()
	for i, b := range s.blocks {
		if tick != nil && i > 0 {
			select {
			case <-tick.C:
			case <-ctx.Done():
				return
			}
		}
		blk := audio.Block{Samples: b, Source: s.name, Timestamp: start.UnixNano() + int64(i)*int64(s.interval)}
		select {
		case s.outCh <- blk:
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends emission and waits for the producer to exit.
func (s *Source) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
