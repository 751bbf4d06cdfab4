package vad

import "math"

// SegmentTracker pairs speech_start/speech_end events into closed segments.
// It is not safe for concurrent use.
type SegmentTracker struct {
	blockDur float64
	open     bool
	startS   float64
	segments []Segment
}

// NewSegmentTracker creates a tracker for events produced under cfg.
func NewSegmentTracker(cfg Config) *SegmentTracker {
	return &SegmentTracker{blockDur: cfg.BlockDuration()}
}

// Observe consumes one event and returns the segment it closes, if any.
// A speech_end with no preceding start opens one block earlier.
func (t *SegmentTracker) Observe(ev Event) (Segment, bool) {
	switch ev.Type {
	case EventSpeechStart:
		t.open = true
		t.startS = ev.TimeS
	case EventSpeechEnd:
		start := t.startS
		if !t.open {
			start = math.Max(0, ev.TimeS-t.blockDur)
		}
		t.open = false
		seg := Segment{StartS: start, EndS: ev.TimeS}
		t.segments = append(t.segments, seg)
		return seg, true
	}
	return Segment{}, false
}

// Open reports whether a start has been seen without a matching end, and
// when it began.
func (t *SegmentTracker) Open() (float64, bool) { return t.startS, t.open }

// Segments returns the closed segments in order.
func (t *SegmentTracker) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}
