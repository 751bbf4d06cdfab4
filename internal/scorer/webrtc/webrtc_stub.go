//go:build !cgo

package webrtc

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

var errNoCgo = errors.New("webrtc vad unavailable (cgo disabled)")

// Scorer is unavailable without cgo.
type Scorer struct{}

// New always fails without cgo.
func New(int, int) (*Scorer, error) { return nil, errNoCgo }

// Score always fails without cgo.
func (*Scorer) Score(context.Context, vad.Frame) (float32, error) { return 0, errNoCgo }

// Reset always fails without cgo.
func (*Scorer) Reset(context.Context) error { return errNoCgo }

// SupportedRate reports whether the detector accepts sampleRate.
func SupportedRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}
