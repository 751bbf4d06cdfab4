// Package energy scores frames by loudness. It needs no model and serves as
// the fallback scorer and as a deterministic scorer in tests.
package energy

import (
	"context"
	"fmt"
	"math"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Defaults map -60 dBFS (room tone) to 0 and -20 dBFS (close speech) to 1.
const (
	DefaultFloorDB = -60.0
	DefaultCeilDB  = -20.0
)

// Scorer maps frame RMS level in dBFS linearly onto [0,1].
type Scorer struct {
	floorDB float64
	ceilDB  float64
}

// New creates an energy scorer. floorDB must be below ceilDB.
func New(floorDB, ceilDB float64) (*Scorer, error) {
	if !(floorDB < ceilDB) {
		return nil, fmt.Errorf("energy floor %.1f dB must be below ceil %.1f dB", floorDB, ceilDB)
	}
	return &Scorer{floorDB: floorDB, ceilDB: ceilDB}, nil
}

var _ vad.Scorer = (*Scorer)(nil)

// Score returns the frame loudness as a probability.
func (s *Scorer) Score(_ context.Context, f vad.Frame) (float32, error) {
	db := LevelDB(f.Samples)
	p := (db - s.floorDB) / (s.ceilDB - s.floorDB)
	return float32(math.Max(0, math.Min(1, p))), nil
}

// Reset is a no-op; the scorer is stateless.
func (s *Scorer) Reset(context.Context) error { return nil }

// LevelDB returns the RMS level of samples in dBFS; silence is -Inf.
func LevelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, x := range samples {
		sum += float64(x) * float64(x)
	}
	return 20 * math.Log10(math.Sqrt(sum/float64(len(samples))))
}
