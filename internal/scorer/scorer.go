// Package scorer builds the in-process scoring adapters by name.
package scorer

import (
	"fmt"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer/energy"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer/webrtc"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Kinds of scorer.
const (
	KindGRPC   = "grpc"
	KindEnergy = "energy"
	KindWebRTC = "webrtc"
)

// Local holds settings for the in-process scorers.
type Local struct {
	Kind          string
	WebRTCMode    int
	EnergyFloorDB float64
	EnergyCeilDB  float64
}

// Factory returns a constructor producing a fresh scorer per session.
func (l Local) Factory() (func(sampleRate int) (vad.Scorer, error), error) {
	switch l.Kind {
	case KindEnergy:
		if _, err := energy.New(l.EnergyFloorDB, l.EnergyCeilDB); err != nil {
			return nil, err
		}
		return func(int) (vad.Scorer, error) {
			return energy.New(l.EnergyFloorDB, l.EnergyCeilDB)
		}, nil
	case KindWebRTC:
		return func(rate int) (vad.Scorer, error) {
			return webrtc.New(rate, l.WebRTCMode)
		}, nil
	default:
		return nil, fmt.Errorf("no local scorer %q", l.Kind)
	}
}
