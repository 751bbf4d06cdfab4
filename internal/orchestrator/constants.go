// Package orchestrator pumps an audio source through a VAD session and fans
// the resulting events out to handlers.
package orchestrator

import "time"

// Pipeline configuration constants
const (
	// StopTimeout bounds draining the session once the source ends.
	StopTimeout = 5 * time.Second

	// MinUtteranceSeconds is the shortest speech segment handed to a SpeechHandler.
	MinUtteranceSeconds = 0.25
)
