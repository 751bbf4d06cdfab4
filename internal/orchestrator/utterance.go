package orchestrator

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// SpeechHandler receives the samples of one completed speech segment.
type SpeechHandler func(ctx context.Context, samples []float32, seg vad.Segment)

// UtteranceCollector buffers audio between speech_start and speech_end and
// hands complete utterances to a SpeechHandler. The frames that completed
// the speech run before speech_start are included as pre-roll.
type UtteranceCollector struct {
	onSpeech   SpeechHandler
	preRoll    int
	minSamples int

	mu       sync.Mutex
	pending  map[int64][]float32
	history  [][]float32
	speech   []float32
	inSpeech bool
	tracker  *vad.SegmentTracker
}

// NewUtteranceCollector creates a collector for sessions configured with cfg.
func NewUtteranceCollector(cfg vad.Config, onSpeech SpeechHandler) *UtteranceCollector {
	return &UtteranceCollector{
		onSpeech:   onSpeech,
		preRoll:    cfg.MinSpeechFrames,
		minSamples: int(MinUtteranceSeconds * float64(cfg.SampleRate)),
		pending:    make(map[int64][]float32),
		tracker:    vad.NewSegmentTracker(cfg),
	}
}

// ObserveFrame records the samples submitted for index.
func (u *UtteranceCollector) ObserveFrame(index int64, samples []float32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if samples == nil {
		delete(u.pending, index)
		return
	}
	u.pending[index] = samples
}

// HandleEvent advances the collector.
func (u *UtteranceCollector) HandleEvent(ctx context.Context, ev vad.Event) {
	u.mu.Lock()
	var (
		done []float32
		seg  vad.Segment
	)
	switch ev.Type {
	case vad.EventFrame:
		samples := u.pending[ev.Index]
		delete(u.pending, ev.Index)
		if u.inSpeech {
			u.speech = append(u.speech, samples...)
			break
		}
		u.history = append(u.history, samples)
		if len(u.history) > u.preRoll {
			u.history = u.history[len(u.history)-u.preRoll:]
		}
	case vad.EventSpeechStart:
		u.tracker.Observe(ev)
		u.inSpeech = true
		u.speech = u.speech[:0]
		for _, h := range u.history {
			u.speech = append(u.speech, h...)
		}
		u.history = nil
	case vad.EventSpeechEnd:
		var ok bool
		seg, ok = u.tracker.Observe(ev)
		u.inSpeech = false
		if ok && len(u.speech) >= u.minSamples {
			done = append([]float32(nil), u.speech...)
		}
		u.speech = u.speech[:0]
	}
	u.mu.Unlock()

	if done != nil && u.onSpeech != nil {
		u.onSpeech(ctx, done, seg)
	}
}
