package scorer

import (
	"context"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/grpcclient"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// Backend hands out one scorer per streaming session, either remote over
// gRPC or in-process.
type Backend struct {
	kind   string
	client *grpcclient.Client
	local  func(sampleRate int) (vad.Scorer, error)
}

// Remote holds the inference client settings used when Kind is grpc.
type Remote struct {
	Addr    string
	Options []grpcclient.Option
}

// Open builds the backend named by local.Kind.
func Open(local Local, remote Remote) (*Backend, error) {
	if local.Kind == KindGRPC {
		client, err := grpcclient.New(remote.Addr, remote.Options...)
		if err != nil {
			return nil, err
		}
		return &Backend{kind: KindGRPC, client: client}, nil
	}
	f, err := local.Factory()
	if err != nil {
		return nil, err
	}
	return &Backend{kind: local.Kind, local: f}, nil
}

// Kind returns the backend name.
func (b *Backend) Kind() string { return b.kind }

// Client returns the inference client, or nil for local backends.
func (b *Backend) Client() *grpcclient.Client { return b.client }

// Scorer returns a scorer for one session. A remote backend fails when the
// inference service is not reachable.
func (b *Backend) Scorer(ctx context.Context, sessionID string, sampleRate int) (vad.Scorer, error) {
	if b.client == nil {
		return b.local(sampleRate)
	}
	if err := b.client.WaitReady(ctx); err != nil {
		return nil, err
	}
	return b.client.NewScorer(sessionID, sampleRate), nil
}

// Health reports whether new sessions can obtain a scorer.
func (b *Backend) Health(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.WaitReady(ctx)
}

// Close releases the inference connection.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
