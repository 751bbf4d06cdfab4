//go:build cgo

// Package webrtc scores frames with the WebRTC GMM voice detector. The
// detector answers per 10 ms; a frame's probability is the fraction of its
// 10 ms slices judged voiced.
package webrtc

import (
	"context"
	"fmt"
	"math"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Scorer wraps one WebRTC VAD instance. Samples that do not fill a whole
// 10 ms slice carry over to the next frame.
type Scorer struct {
	vad        *webrtcvad.VAD
	mode       int
	sampleRate int
	slice      int
	pending    []int16
	last       float32
}

var _ vad.Scorer = (*Scorer)(nil)

// New creates a scorer for sampleRate with aggressiveness mode 0..3.
func New(sampleRate, mode int) (*Scorer, error) {
	if !SupportedRate(sampleRate) {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("webrtc vad: mode %d out of range 0..3", mode)
	}
	s := &Scorer{mode: mode, sampleRate: sampleRate, slice: sampleRate / 100}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scorer) init() error {
	v, err := webrtcvad.New()
	if err != nil {
		return fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(s.mode); err != nil {
		return fmt.Errorf("webrtc vad: set mode: %w", err)
	}
	s.vad = v
	return nil
}

// Score runs every complete 10 ms slice available after appending f.
func (s *Scorer) Score(_ context.Context, f vad.Frame) (float32, error) {
	s.pending = append(s.pending, toPCM16(f.Samples)...)

	var voiced, total int
	for len(s.pending) >= s.slice {
		active, err := s.vad.Process(s.sampleRate, pcmBytes(s.pending[:s.slice]))
		if err != nil {
			return 0, fmt.Errorf("webrtc vad: process: %w", err)
		}
		s.pending = s.pending[s.slice:]
		total++
		if active {
			voiced++
		}
	}
	if total > 0 {
		s.last = float32(voiced) / float32(total)
	}
	// Compact so the carry buffer does not grow without bound.
	s.pending = append(s.pending[:0:0], s.pending...)
	return s.last, nil
}

// Reset replaces the detector, dropping its adaptive noise estimate.
func (s *Scorer) Reset(context.Context) error {
	s.pending = nil
	s.last = 0
	return s.init()
}

// SupportedRate reports whether the detector accepts sampleRate.
func SupportedRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

func toPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, x := range samples {
		v := math.Max(-1, math.Min(1, float64(x)))
		out[i] = int16(math.Round(v * math.MaxInt16))
	}
	return out
}

func pcmBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
