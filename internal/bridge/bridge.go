package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/GriffinCanCode/good-listener/backend/vadstream/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// ConfigMessage adjusts the classifier. Omitted fields keep their value.
type ConfigMessage struct {
	Type             string   `json:"type"`
	Threshold        *float64 `json:"threshold,omitempty"`
	MinSpeechFrames  *int     `json:"min_speech_frames,omitempty"`
	MinSilenceFrames *int     `json:"min_silence_frames,omitempty"`
}

// EventMessage is sent for every event, in production order.
type EventMessage struct {
	Type string  `json:"type"`
	TS   float64 `json:"t_s"`
	Prob float32 `json:"prob"`
}

// ErrorMessage reports a failure to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ScorerFactory returns a scorer for one connection. An error means no
// scorer is available and the connection is refused.
type ScorerFactory func(ctx context.Context, sessionID string, sampleRate int) (vad.Scorer, error)

// Config holds per-connection defaults.
type Config struct {
	VAD       vad.Config
	Malformed string
	Session   []vad.Option
}

// Stats counts what happened on one connection.
type Stats struct {
	Frames   int64
	Dropped  int64
	Rejected int64
	Events   int64
}

// Handler serves the streaming protocol.
type Handler struct {
	cfg     Config
	factory ScorerFactory
	metrics *observe.Metrics
	onStart func(*vad.Session)
	onEnd   func(*vad.Session)
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records drops through m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithSessionHooks registers callbacks around each session's lifetime.
func WithSessionHooks(onStart, onEnd func(*vad.Session)) Option {
	return func(h *Handler) { h.onStart, h.onEnd = onStart, onEnd }
}

// New creates a Handler.
func New(cfg Config, factory ScorerFactory, opts ...Option) *Handler {
	if cfg.Malformed == "" {
		cfg.Malformed = MalformedDrop
	}
	h := &Handler{cfg: cfg, factory: factory, metrics: observe.Noop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the protocol until either side
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx, _ := trace.EnsureContext(r.Context())
	if err := h.Serve(ctx, conn); err != nil {
		trace.Logger(ctx).Debug("vad stream ended", "error", err)
	}
}

// stream holds the state of one connection.
type stream struct {
	h          *Handler
	conn       *websocket.Conn
	id         string
	log        *slog.Logger
	cfg        vad.Config
	frameBytes int

	sess   *vad.Session
	sessCh chan *vad.Session

	frames, dropped, rejected, events atomic.Int64
}

// Serve runs the protocol on an accepted connection and closes it.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) error {
	id := uuid.NewString()
	ctx = trace.WithSession(ctx, id)
	st := &stream{
		h:          h,
		conn:       conn,
		id:         id,
		log:        trace.Logger(ctx),
		cfg:        h.cfg.VAD,
		frameBytes: h.cfg.VAD.BlockSize * vad.Float32ByteSize,
		sessCh:     make(chan *vad.Session, 1),
	}
	conn.SetReadLimit(int64(max(MinReadLimit, 2*st.frameBytes)))

	scorer, err := h.factory(ctx, id, st.cfg.SampleRate)
	if err != nil {
		st.log.Warn("vad unavailable", "error", err)
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: TypeError, Message: UnavailableMessage})
		_ = conn.Close(websocket.StatusTryAgainLater, UnavailableMessage)
		return err
	}
	st.log.Info("vad stream connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.read(gctx, scorer) })
	g.Go(func() error { return st.send(gctx) })
	err = g.Wait()

	stats := st.stats()
	st.log.Info("vad stream closed",
		"frames", stats.Frames,
		"dropped", stats.Dropped,
		"rejected", stats.Rejected,
		"events", stats.Events)
	if err != nil {
		return err
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (st *stream) stats() Stats {
	return Stats{
		Frames:   st.frames.Load(),
		Dropped:  st.dropped.Load(),
		Rejected: st.rejected.Load(),
		Events:   st.events.Load(),
	}
}

// read consumes client messages until disconnect, then drains the session.
func (st *stream) read(ctx context.Context, scorer vad.Scorer) error {
	defer st.finish()
	defer close(st.sessCh)

	for {
		typ, data, err := st.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				st.log.Debug("websocket read error", "error", err)
			}
			return nil
		}

		switch typ {
		case websocket.MessageText:
			st.handleText(ctx, data)
		case websocket.MessageBinary:
			if err := st.handleFrame(ctx, scorer, data); err != nil {
				return err
			}
		}
	}
}

func (st *stream) handleText(ctx context.Context, data []byte) {
	var msg ConfigMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeConfig {
		st.log.Debug("ignoring text message", "error", err)
		return
	}
	next := st.cfg
	if msg.Threshold != nil {
		next.Threshold = *msg.Threshold
	}
	if msg.MinSpeechFrames != nil {
		next.MinSpeechFrames = *msg.MinSpeechFrames
	}
	if msg.MinSilenceFrames != nil {
		next.MinSilenceFrames = *msg.MinSilenceFrames
	}
	if err := next.Validate(); err != nil {
		st.log.Debug("ignoring invalid config", "error", err)
		return
	}

	if st.sess != nil {
		if err := st.sess.Reconfigure(ctx, next); err != nil {
			st.log.Debug("reconfigure failed", "error", err)
			return
		}
	}
	st.cfg = next
	st.log.Debug("vad config updated",
		"threshold", next.Threshold,
		"min_speech_frames", next.MinSpeechFrames,
		"min_silence_frames", next.MinSilenceFrames)
}

func (st *stream) handleFrame(ctx context.Context, scorer vad.Scorer, data []byte) error {
	if len(data) != st.frameBytes {
		st.malformed(ctx, len(data))
		return nil
	}

	if st.sess == nil {
		opts := append([]vad.Option{
			vad.WithSessionID(st.id),
			vad.WithMetrics(st.h.metrics),
		}, st.h.cfg.Session...)
		sess, err := vad.Start(st.cfg, scorer, opts...)
		if err != nil {
			st.log.Error("failed to start vad session", "error", err)
			_ = wsjson.Write(ctx, st.conn, ErrorMessage{Type: TypeError, Message: clientMessage(err)})
			_ = st.conn.Close(websocket.StatusInternalError, clientMessage(err))
			return err
		}
		st.sess = sess
		st.sessCh <- sess
		if st.h.onStart != nil {
			st.h.onStart(sess)
		}
	}

	// ErrStopped is reported by the sender, which also closes the connection.
	if _, err := st.sess.Submit(ctx, vad.BytesToFloat32(data)); err != nil {
		if errors.Is(err, vad.ErrQueueFull) {
			st.dropped.Add(1)
		}
		return nil
	}
	st.frames.Add(1)
	return nil
}

func (st *stream) malformed(ctx context.Context, got int) {
	st.h.metrics.RecordDrop(ctx, observe.DropReasonSize)
	if st.h.cfg.Malformed == MalformedReject {
		st.rejected.Add(1)
		_ = wsjson.Write(ctx, st.conn, ErrorMessage{
			Type:    TypeError,
			Message: "malformed frame: want " + strconv.Itoa(st.frameBytes) + " bytes, got " + strconv.Itoa(got),
		})
		return
	}
	st.dropped.Add(1)
	st.log.Debug("dropping malformed frame", "want", st.frameBytes, "got", got)
}

// finish stops the session so the sender drains the remaining events.
func (st *stream) finish() {
	if st.sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := st.sess.Stop(ctx); err != nil && !apperrors.IsCode(err, apperrors.CodeAdapterFailed) {
		st.log.Warn("vad session stop error", "error", err)
	}
	if st.h.onEnd != nil {
		st.h.onEnd(st.sess)
	}
}

// send forwards session events to the client in order.
func (st *stream) send(ctx context.Context) error {
	sess, ok := <-st.sessCh
	if !ok {
		return nil
	}
	for {
		ev, err := sess.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, vad.ErrEnded), errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, vad.ErrAdapterFailed):
			st.log.Error("vad scorer failed", "error", err)
			_ = wsjson.Write(ctx, st.conn, ErrorMessage{Type: TypeError, Message: clientMessage(err)})
			_ = st.conn.Close(websocket.StatusInternalError, "scorer failed")
			return err
		default:
			return err
		}

		msg := EventMessage{Type: ev.Type.String(), TS: ev.TimeS, Prob: ev.Prob}
		if err := wsjson.Write(ctx, st.conn, msg); err != nil {
			return err
		}
		st.events.Add(1)
	}
}

// clientMessage keeps internal causes off the wire.
func clientMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal error"
}
