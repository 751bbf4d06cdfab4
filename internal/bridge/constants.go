// Package bridge speaks the /vad-stream WebSocket protocol: binary float32
// frames in, one JSON message per VAD event out.
package bridge

import "time"

// Message types.
const (
	TypeConfig = "config"
	TypeError  = "error"
)

// Malformed frame policies.
const (
	MalformedDrop   = "drop"
	MalformedReject = "reject"
)

const (
	// UnavailableMessage is sent when no scorer can be obtained for a connection.
	UnavailableMessage = "VAD not available on server"

	// MinReadLimit is the smallest per-message read limit applied to a connection.
	MinReadLimit = 32768

	// StopTimeout bounds draining a session after the client goes away.
	StopTimeout = 2 * time.Second
)
