package vad

import "math"

// Classifier turns per-frame speech probabilities into frame events and
// debounced speech boundaries. It is not safe for concurrent use; a session
// worker owns exactly one.
type Classifier struct {
	cfg        Config
	blockDur   float64
	speechRun  int
	silenceRun int
	inSpeech   bool
	index      int64
}

// NewClassifier creates a classifier in the silence state at frame 0. cfg is
// expected to be valid.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, blockDur: cfg.BlockDuration()}
}

// Process consumes the probability of the next frame and appends the
// resulting events to dst: always one EventFrame, followed by at most one
// boundary event.
func (c *Classifier) Process(prob float32, dst []Event) []Event {
	prob = clampProb(prob)
	idx := c.index
	t := float64(idx) * c.blockDur
	c.index++

	if float64(prob) > c.cfg.Threshold {
		c.speechRun++
		c.silenceRun = 0
	} else {
		c.silenceRun++
		c.speechRun = 0
	}

	dst = append(dst, Event{Type: EventFrame, Index: idx, TimeS: t, Prob: prob})

	if !c.inSpeech && c.speechRun >= c.cfg.MinSpeechFrames {
		c.inSpeech = true
		dst = append(dst, Event{Type: EventSpeechStart, Index: idx, TimeS: t, Prob: prob})
	} else if c.inSpeech && c.silenceRun >= c.cfg.MinSilenceFrames {
		c.inSpeech = false
		dst = append(dst, Event{Type: EventSpeechEnd, Index: idx, TimeS: t, Prob: prob})
	}
	return dst
}

// Reconfigure swaps threshold and run lengths, keeping counters and state.
// SampleRate and BlockSize are left untouched so timestamps stay evenly spaced.
func (c *Classifier) Reconfigure(cfg Config) {
	c.cfg.Threshold = cfg.Threshold
	c.cfg.MinSpeechFrames = cfg.MinSpeechFrames
	c.cfg.MinSilenceFrames = cfg.MinSilenceFrames
}

// Reset returns to silence at frame 0.
func (c *Classifier) Reset() {
	c.speechRun, c.silenceRun = 0, 0
	c.inSpeech = false
	c.index = 0
}

// InSpeech reports the current debounced state.
func (c *Classifier) InSpeech() bool { return c.inSpeech }

// NextIndex is the index the next processed frame will receive.
func (c *Classifier) NextIndex() int64 { return c.index }

// Config returns the active configuration.
func (c *Classifier) Config() Config { return c.cfg }

func clampProb(p float32) float32 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

func isNaN32(p float32) bool { return math.IsNaN(float64(p)) }
