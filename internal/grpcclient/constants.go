// Package grpcclient talks to the VAD inference service over gRPC and
// serves local scorers behind the same service.
package grpcclient

import "time"

// Service wire names. Messages are protobuf well-known types: the frame is a
// BytesValue of little-endian float32 samples and the probability a
// FloatValue.
const (
	ServiceName        = "vad.v1.VADService"
	MethodDetectSpeech = "/" + ServiceName + "/DetectSpeech"
	MethodResetState   = "/" + ServiceName + "/ResetState"

	// SampleRateKey is the metadata key carrying the frame sample rate.
	SampleRateKey = "x-sample-rate"
)

// Client configuration defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// DefaultScoreTimeout bounds one DetectSpeech call. A frame is 32 ms of
	// audio; anything slower cannot keep up in real time.
	DefaultScoreTimeout = 100 * time.Millisecond

	HealthCheckTimeout = 2 * time.Second

	// DefaultSessionIdle is how long the model server keeps state for a
	// session that stopped calling.
	DefaultSessionIdle = 5 * time.Minute
)
