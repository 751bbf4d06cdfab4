package vad

import (
	"errors"
	"fmt"
	"math"

	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
)

// Config holds classifier parameters for one session.
type Config struct {
	SampleRate       int
	BlockSize        int
	Threshold        float64
	MinSpeechFrames  int
	MinSilenceFrames int
}

// DefaultConfig returns the Silero streaming defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		BlockSize:        DefaultBlockSize,
		Threshold:        DefaultThreshold,
		MinSpeechFrames:  DefaultMinSpeechFrames,
		MinSilenceFrames: DefaultMinSilenceFrames,
	}
}

// BlockDuration returns the seconds spanned by one frame.
func (c Config) BlockDuration() float64 {
	return float64(c.BlockSize) / float64(c.SampleRate)
}

// Validate reports every invalid field as a CONFIG_INVALID error.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size must be positive, got %d", c.BlockSize))
	}
	if math.IsNaN(c.Threshold) || c.Threshold <= 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in (0,1), got %v", c.Threshold))
	}
	if c.MinSpeechFrames < 1 {
		errs = append(errs, fmt.Errorf("min_speech_frames must be >= 1, got %d", c.MinSpeechFrames))
	}
	if c.MinSilenceFrames < 1 {
		errs = append(errs, fmt.Errorf("min_silence_frames must be >= 1, got %d", c.MinSilenceFrames))
	}
	if len(errs) == 0 {
		return nil
	}
	return apperrors.Wrap(errors.Join(errs...), apperrors.CodeConfigInvalid, "invalid vad config")
}
