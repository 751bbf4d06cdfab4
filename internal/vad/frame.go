package vad

import (
	"encoding/binary"
	"math"
)

// Frame is one fixed-length block of mono float32 samples tagged with its
// 0-based position in the stream. Samples must not be modified once the frame
// has been handed to a session.
type Frame struct {
	Index   int64
	Samples []float32
}

// EventType tags an Event.
type EventType int

const (
	// EventFrame is emitted once per processed frame.
	EventFrame EventType = iota
	// EventSpeechStart marks the frame completing a speech run.
	EventSpeechStart
	// EventSpeechEnd marks the frame completing a silence run.
	EventSpeechEnd
)

func (t EventType) String() string {
	switch t {
	case EventFrame:
		return "frame"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is produced by the classifier for one frame.
type Event struct {
	Type  EventType
	Index int64
	TimeS float64
	Prob  float32
}

// Segment is a closed speech interval in stream seconds.
type Segment struct {
	StartS float64
	EndS   float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.EndS - s.StartS }

// Float32ToBytes converts float32 samples to little-endian bytes.
func Float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*Float32ByteSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*Float32ByteSize:], math.Float32bits(s))
	}
	return buf
}

// BytesToFloat32 decodes little-endian float32 samples. Trailing bytes that
// do not form a whole sample are ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/Float32ByteSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*Float32ByteSize:]))
	}
	return out
}

// Chunk splits samples into blockSize frames, zero-padding the last one.
func Chunk(samples []float32, blockSize int) [][]float32 {
	if blockSize <= 0 || len(samples) == 0 {
		return nil
	}
	n := (len(samples) + blockSize - 1) / blockSize
	out := make([][]float32, 0, n)
	for off := 0; off < len(samples); off += blockSize {
		end := off + blockSize
		if end <= len(samples) {
			out = append(out, samples[off:end])
			continue
		}
		last := make([]float32, blockSize)
		copy(last, samples[off:])
		out = append(out, last)
	}
	return out
}
