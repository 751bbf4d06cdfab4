// Package audiofile loads WAV recordings as mono float32 at a target sample
// rate and replays them as fixed-size blocks.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrInvalidWAV is returned for input that is not a decodable PCM WAV file.
var ErrInvalidWAV = errors.New("not a valid wav file")

// Audio is decoded channel-0 audio normalised to [-1, 1].
type Audio struct {
	Samples    []float32
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the length in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Decode reads a PCM WAV stream and keeps its first channel.
func Decode(r io.ReadSeeker) (*Audio, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if channels < 1 {
		return nil, ErrInvalidWAV
	}
	depth := int(d.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range out {
		out[i] = normalize(buf.Data[i*channels], depth)
	}
	return &Audio{Samples: out, SampleRate: int(d.SampleRate), Channels: channels, BitDepth: depth}, nil
}

// normalize maps an integer PCM sample to [-1, 1]. 8-bit WAV is unsigned.
func normalize(v, depth int) float32 {
	if depth == 8 {
		return float32(v-128) / 128
	}
	if depth <= 0 || depth > 32 {
		depth = 16
	}
	return float32(float64(v) / float64(int64(1)<<(depth-1)))
}

// Load decodes path and resamples it to targetRate.
func Load(path string, targetRate int) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if targetRate > 0 && a.SampleRate != targetRate {
		samples, err := Resample(a.Samples, a.SampleRate, targetRate)
		if err != nil {
			return nil, err
		}
		a.Samples, a.SampleRate = samples, targetRate
	}
	return a, nil
}

// Resample converts mono samples between rates. The output always holds
// round(len(samples) * to / from) samples; resampler latency is zero-filled.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	want := (len(samples)*to + from/2) / from
	out := make([]float32, want)
	for i := 0; i < want && i < len(res); i++ {
		out[i] = float32(res[i])
	}
	return out, nil
}
