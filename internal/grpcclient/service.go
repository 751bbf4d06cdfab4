package grpcclient

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// VADServiceServer is the server API of the inference service.
type VADServiceServer interface {
	DetectSpeech(context.Context, *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error)
	ResetState(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// RegisterVADServer registers srv on s.
func RegisterVADServer(s grpc.ServiceRegistrar, srv VADServiceServer) {
	s.RegisterService(&vadServiceDesc, srv)
}

var vadServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VADServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DetectSpeech", Handler: detectSpeechHandler},
		{MethodName: "ResetState", Handler: resetStateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vad/v1/vad.proto",
}

func detectSpeechHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VADServiceServer).DetectSpeech(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDetectSpeech}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VADServiceServer).DetectSpeech(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func resetStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VADServiceServer).ResetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodResetState}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VADServiceServer).ResetState(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ScorerFactory builds a fresh local scorer for one remote session.
type ScorerFactory func(sampleRate int) (vad.Scorer, error)

// ModelServer serves local scorers over the inference service, one scorer
// per x-session-id so recurrent state never mixes between callers.
type ModelServer struct {
	newScorer ScorerFactory
	sessions  *syncx.Map[string, *modelSession]
}

type modelSession struct {
	mu         sync.Mutex
	scorer     vad.Scorer
	sampleRate int
	next       int64
	lastSeen   atomic.Int64
}

// NewModelServer creates a server backed by factory.
func NewModelServer(factory ScorerFactory) *ModelServer {
	return &ModelServer{newScorer: factory, sessions: syncx.NewMap[string, *modelSession]()}
}

var _ VADServiceServer = (*ModelServer)(nil)

// DetectSpeech scores one frame for the calling session.
func (m *ModelServer) DetectSpeech(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error) {
	audio := req.GetValue()
	if len(audio) == 0 || len(audio)%vad.Float32ByteSize != 0 {
		return nil, apperrors.Newf(apperrors.CodeMalformedFrame, "frame of %d bytes is not float32 audio", len(audio))
	}
	rate, err := sampleRate(ctx)
	if err != nil {
		return nil, err
	}

	sess := m.session(ctx)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.scorer == nil || sess.sampleRate != rate {
		sc, err := m.newScorer(rate)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "create scorer")
		}
		if err := sc.Reset(ctx); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeAdapterFailed, "reset scorer")
		}
		sess.scorer, sess.sampleRate, sess.next = sc, rate, 0
	}

	p, err := sess.scorer.Score(ctx, vad.Frame{Index: sess.next, Samples: vad.BytesToFloat32(audio)})
	if err != nil {
		trace.Logger(ctx).Warn("local scorer failed", "error", err, "frame", sess.next)
		return nil, apperrors.Wrap(err, apperrors.CodeAdapterFailed, "score frame")
	}
	sess.next++
	return wrapperspb.Float(p), nil
}

// ResetState clears the calling session's scorer state.
func (m *ModelServer) ResetState(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sess := m.session(ctx)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.next = 0
	if sess.scorer != nil {
		if err := sess.scorer.Reset(ctx); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeAdapterFailed, "reset scorer")
		}
	}
	return &emptypb.Empty{}, nil
}

// Sessions returns the number of tracked sessions.
func (m *ModelServer) Sessions() int { return m.sessions.Len() }

// Evict drops sessions idle for longer than maxIdle.
func (m *ModelServer) Evict(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()
	n := m.sessions.DeleteFunc(func(_ string, s *modelSession) bool {
		return s.lastSeen.Load() < cutoff
	})
	if n > 0 {
		slog.Debug("evicted idle model sessions", "count", n, "remaining", m.sessions.Len())
	}
	return n
}

func (m *ModelServer) session(ctx context.Context) *modelSession {
	id := incoming(ctx, trace.SessionIDKey)
	sess, _ := m.sessions.LoadOrStore(id, func() *modelSession { return &modelSession{} })
	sess.lastSeen.Store(time.Now().UnixNano())
	return sess
}

func sampleRate(ctx context.Context) (int, error) {
	v := incoming(ctx, SampleRateKey)
	if v == "" {
		return vad.DefaultSampleRate, nil
	}
	rate, err := strconv.Atoi(v)
	if err != nil || rate <= 0 {
		return 0, apperrors.Newf(apperrors.CodeConfigInvalid, "bad %s %q", SampleRateKey, v)
	}
	return rate, nil
}

func incoming(ctx context.Context, key string) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
