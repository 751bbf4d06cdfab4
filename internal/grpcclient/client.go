package grpcclient

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
)

// Client wraps the connection to the inference server. One breaker is shared
// by every session scoring through the client.
type Client struct {
	addr         string
	conn         *grpc.ClientConn
	breaker      *resilience.Breaker
	retry        resilience.RetryConfig
	scoreTimeout time.Duration
	metrics      *observe.Metrics
	dialOpts     []grpc.DialOption
	breakerCfg   resilience.Config
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records breaker transitions.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker overrides the scorer breaker settings.
func WithBreaker(cfg resilience.Config) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithRetry overrides the per-frame retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithScoreTimeout bounds each DetectSpeech call.
func WithScoreTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.scoreTimeout = d
		}
	}
}

// WithDialOptions appends raw dial options (tests use a bufconn dialer).
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// New creates a client for the inference server at addr. The connection is
// established lazily.
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:         addr,
		retry:        resilience.ScoreRetryConfig(),
		scoreTimeout: DefaultScoreTimeout,
		breakerCfg:   resilience.ScorerConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.Noop()
	}
	c.breaker = resilience.New(c.breakerCfg).WithHook(func(_, to resilience.State) {
		c.metrics.RecordBreakerTransition(context.Background(), to.String())
	})

	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "dial inference server %s", addr)
	}
	c.conn = conn
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Breaker exposes the shared scorer breaker.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// WaitReady connects if idle and waits until the channel is ready, the
// health-check timeout passes or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	if c.breaker.State() == resilience.Open {
		return resilience.ErrOpen
	}
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	c.conn.Connect()
	for {
		s := c.conn.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return apperrors.New(apperrors.CodeUnavailable, "inference connection closed")
		}
		if !c.conn.WaitForStateChange(ctx, s) {
			return apperrors.Wrapf(ctx.Err(), apperrors.CodeUnavailable, "inference server %s not ready (%s)", c.addr, s)
		}
	}
}

// DetectSpeech scores one frame of little-endian float32 audio.
func (c *Client) DetectSpeech(ctx context.Context, audio []byte, sampleRate int32) (float32, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, SampleRateKey, strconv.Itoa(int(sampleRate)))
	var resp wrapperspb.FloatValue
	if err := c.conn.Invoke(ctx, MethodDetectSpeech, wrapperspb.Bytes(audio), &resp); err != nil {
		return 0, apperrors.FromGRPCError(err)
	}
	return resp.GetValue(), nil
}

// ResetVAD clears the recurrent model state of the session carried by ctx.
func (c *Client) ResetVAD(ctx context.Context) error {
	if err := c.conn.Invoke(ctx, MethodResetState, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		return apperrors.FromGRPCError(err)
	}
	return nil
}
