// Package vad implements the streaming voice-activity engine: a hysteresis
// classifier over per-frame speech probabilities and the single-worker
// session harness that scores, classifies and publishes events.
package vad

import "time"

// Defaults taken from the Silero VAD streaming setup (32 ms blocks at 16 kHz).
const (
	DefaultSampleRate       = 16000
	DefaultBlockSize        = 512
	DefaultThreshold        = 0.5
	DefaultMinSpeechFrames  = 3 // ~96 ms
	DefaultMinSilenceFrames = 6 // ~192 ms

	// Float32ByteSize is the wire size of one sample.
	Float32ByteSize = 4
)

// Session harness defaults.
const (
	DefaultQueueSize   = 256 // ~8 s of 32 ms frames
	DefaultEventBuffer = 64
	DefaultStopTimeout = 2 * time.Second
)
