package grpcclient

import (
	"context"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Scorer is a vad.Scorer backed by the remote model. Each streaming session
// gets its own Scorer so the server keeps separate recurrent state.
type Scorer struct {
	client     *Client
	sessionID  string
	sampleRate int32
}

// NewScorer binds a remote scorer to one session.
func (c *Client) NewScorer(sessionID string, sampleRate int) *Scorer {
	return &Scorer{client: c, sessionID: sessionID, sampleRate: int32(sampleRate)}
}

var _ vad.Scorer = (*Scorer)(nil)

// Score sends one frame through the breaker, retrying only when the server
// could not be reached.
func (s *Scorer) Score(ctx context.Context, f vad.Frame) (float32, error) {
	ctx = trace.WithSession(ctx, s.sessionID)
	audio := vad.Float32ToBytes(f.Samples)
	c := s.client
	return resilience.RetryWithResult(ctx, c.retry, func() (float32, error) {
		return resilience.ExecuteWithResult(c.breaker, func() (float32, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.scoreTimeout)
			defer cancel()
			return c.DetectSpeech(callCtx, audio, s.sampleRate)
		})
	})
}

// Reset clears the session's state on the server.
func (s *Scorer) Reset(ctx context.Context) error {
	ctx = trace.WithSession(ctx, s.sessionID)
	return s.client.breaker.Execute(func() error {
		return s.client.ResetVAD(ctx)
	})
}
