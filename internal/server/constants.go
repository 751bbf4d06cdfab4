// Package server provides the HTTP routes around the VAD streaming bridge.
package server

import "time"

// Server configuration constants
const (
	// StreamPath is the WebSocket endpoint for audio streaming.
	StreamPath = "/vad-stream"

	// HealthCheckTimeout bounds the scorer probe behind /healthz.
	HealthCheckTimeout = 2 * time.Second

	// ConnLimitMessage is the body returned when an IP has too many streams open.
	ConnLimitMessage = "too many connections"
)
