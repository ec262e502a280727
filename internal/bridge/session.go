package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambralabs/voicebridge/internal/observability"
	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/reliability"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

// State tracks the session lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interrupt trigger reasons, surfaced in stop_playback.
const (
	ReasonManualInterrupt  = "manual_interrupt"
	ReasonUserInterruption = "user_interruption"
)

var errWaitTimeout = errors.New("timed out waiting for upstream event")

// ErrSetupTimeout reports a setup handshake that never saw its
// acknowledgement.
var ErrSetupTimeout = errors.New("session.updated not received before setup timeout")

const audioDropLogEvery = 500

// Session bridges one client to one upstream Voice Live connection. The
// run goroutine owns the receive loop and all protocol state (deferred
// greeting flag, in-flight call map, unknown-event log guard); the
// command methods called from the client transport only touch the
// mutex-guarded connection handle and atomics, so they are safe
// concurrently with the loop.
type Session struct {
	clientID string
	cfg      protocol.SessionConfig
	vlCfg    voicelive.Config
	dial     Dialer
	send     Sender
	funcs    *FunctionRegistry
	metrics  *observability.Metrics
	log      *slog.Logger

	setupTimeout    time.Duration
	funcCallTimeout time.Duration

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   Upstream

	// Run-loop owned.
	pendingGreeting bool
	calls           map[string]*FunctionCallContext
	unknownEvents   map[voicelive.EventType]struct{}
	videoRecvCount  int

	audioDropCount atomic.Uint64
	onExit         func(*Session)
}

func newSession(clientID string, cfg protocol.SessionConfig, vlCfg voicelive.Config, deps sessionDeps) *Session {
	s := &Session{
		clientID:        clientID,
		cfg:             cfg,
		vlCfg:           vlCfg,
		dial:            deps.dial,
		send:            deps.send,
		funcs:           deps.funcs,
		metrics:         deps.metrics,
		log:             deps.log.With("client_id", clientID),
		setupTimeout:    deps.setupTimeout,
		funcCallTimeout: deps.funcCallTimeout,
		done:            make(chan struct{}),
		calls:           make(map[string]*FunctionCallContext),
		unknownEvents:   make(map[voicelive.EventType]struct{}),
		onExit:          deps.onExit,
	}
	// The lifecycle context exists from construction so stop is safe
	// even against a session that has not started yet.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state.Store(int32(StateIdle))
	return s
}

type sessionDeps struct {
	dial            Dialer
	send            Sender
	funcs           *FunctionRegistry
	metrics         *observability.Metrics
	log             *slog.Logger
	setupTimeout    time.Duration
	funcCallTimeout time.Duration
	onExit          func(*Session)
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// start launches the session's background task.
func (s *Session) start() {
	go s.run(s.ctx)
}

// stop tears the session down and waits for the background task. Safe
// to call repeatedly and from any goroutine.
func (s *Session) stop() {
	s.setStateClosingOnce()
	s.cancel()
	<-s.done
}

func (s *Session) setStateClosingOnce() {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosing || State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			return
		}
	}
}

// Done is closed when the background task has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateClosed)
	defer func() {
		if s.onExit != nil {
			s.onExit(s)
		}
	}()

	s.setState(StateConnecting)
	s.log.Info("connecting to voice live", "model", s.vlCfg.Model)

	conn, err := s.dial(ctx, s.vlCfg)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("voice live connection failed", "error", err)
			s.send(protocol.SessionError{Type: protocol.TypeSessionError, Error: err.Error()})
			s.metrics.SessionEvents.WithLabelValues("setup_failed").Inc()
		}
		return
	}
	s.setConn(conn)
	defer func() {
		s.setConn(nil)
		_ = conn.Close()
	}()

	if err := s.setup(ctx, conn); err != nil {
		if ctx.Err() == nil {
			s.log.Error("session setup failed", "error", err)
			s.send(protocol.SessionError{Type: protocol.TypeSessionError, Error: err.Error()})
			s.metrics.SessionEvents.WithLabelValues("setup_failed").Inc()
		}
		return
	}

	s.setState(StateActive)
	s.eventLoop(ctx, conn)
	s.setState(StateClosing)
}

// eventLoop runs for the session's lifetime once setup succeeds. Error
// isolation is per event: only fatal connection errors or cancellation
// end the loop.
func (s *Session) eventLoop(ctx context.Context, conn Upstream) {
	for {
		ev, err := conn.Recv(ctx)
		if err != nil {
			switch reliability.ClassifyRecv(err) {
			case reliability.RecvCanceled:
				return
			case reliability.RecvRecoverable:
				s.log.Warn("recoverable upstream receive error", "error", err)
				continue
			default:
				s.log.Error("upstream connection lost", "error", err)
				s.send(protocol.SessionError{Type: protocol.TypeSessionError, Error: err.Error()})
				s.metrics.SessionEvents.WithLabelValues("upstream_lost").Inc()
				return
			}
		}
		s.metrics.UpstreamEvents.WithLabelValues(string(ev.Type)).Inc()
		if err := s.handleEvent(ctx, conn, ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			if reliability.ClassifyRecv(err) == reliability.RecvFatal {
				s.log.Error("upstream connection lost mid-event", "event", ev.Type, "error", err)
				s.send(protocol.SessionError{Type: protocol.TypeSessionError, Error: err.Error()})
				s.metrics.SessionEvents.WithLabelValues("upstream_lost").Inc()
				return
			}
			s.log.Error("event handler failed", "event", ev.Type, "error", err)
		}
	}
}

// waitForEvent blocks until an event of the wanted type arrives. Every
// other event received while waiting is routed through the normal
// translator, so nothing client-visible is lost. Returns errWaitTimeout
// when the window elapses.
func (s *Session) waitForEvent(ctx context.Context, conn Upstream, want voicelive.EventType, timeout time.Duration) (voicelive.ServerEvent, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		ev, err := conn.Recv(waitCtx)
		if err != nil {
			switch reliability.ClassifyRecv(err) {
			case reliability.RecvCanceled:
				if ctx.Err() != nil {
					return voicelive.ServerEvent{}, ctx.Err()
				}
				return voicelive.ServerEvent{}, fmt.Errorf("%w: %s", errWaitTimeout, want)
			case reliability.RecvRecoverable:
				s.log.Warn("recoverable upstream receive error while waiting", "want", want, "error", err)
				continue
			default:
				return voicelive.ServerEvent{}, err
			}
		}
		s.metrics.UpstreamEvents.WithLabelValues(string(ev.Type)).Inc()
		if ev.Type == want {
			return ev, nil
		}
		if err := s.handleEvent(ctx, conn, ev); err != nil {
			if reliability.ClassifyRecv(err) == reliability.RecvFatal {
				return voicelive.ServerEvent{}, err
			}
			s.log.Error("event handler failed while waiting", "event", ev.Type, "error", err)
		}
	}
}

func (s *Session) setConn(conn Upstream) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = conn
}

func (s *Session) upstream() Upstream {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// SendAudio forwards one base64-encoded client audio chunk upstream in
// arrival order. Chunks with no live connection are dropped; the drop is
// logged on first occurrence and then periodically.
func (s *Session) SendAudio(audioBase64 string) {
	conn := s.upstream()
	if conn == nil || s.State() != StateActive {
		n := s.audioDropCount.Add(1)
		s.metrics.DroppedAudio.Inc()
		if n == 1 || n%audioDropLogEvery == 0 {
			s.log.Warn("dropping audio chunk, no upstream connection", "dropped", n)
		}
		return
	}
	if err := conn.AppendInputAudio(audioBase64); err != nil {
		s.log.Error("forwarding audio chunk failed", "error", err)
	}
}

// SendText adds a user text message to the conversation and requests a
// generation turn.
func (s *Session) SendText(text string) {
	conn := s.upstream()
	if conn == nil {
		s.log.Warn("dropping text message, no upstream connection")
		return
	}
	if err := conn.CreateUserMessage(text); err != nil {
		s.log.Error("sending text message failed", "error", err)
		return
	}
	if err := conn.CreateResponse(); err != nil {
		s.log.Error("requesting response for text message failed", "error", err)
	}
}

// SubmitOffer relays the browser's SDP offer upstream for the avatar
// peer connection.
func (s *Session) SubmitOffer(clientSDP string) {
	conn := s.upstream()
	if conn == nil {
		s.log.Warn("dropping avatar sdp offer, no upstream connection")
		return
	}
	s.log.Info("forwarding avatar sdp offer", "sdp_len", len(clientSDP))
	if err := conn.AvatarConnect(clientSDP); err != nil {
		s.log.Error("forwarding avatar sdp offer failed", "error", err)
	}
}

// Interrupt stops client playback and cancels the in-flight upstream
// generation. The two actions are independent and best effort, playback
// stop first.
func (s *Session) Interrupt(reason string) {
	s.send(protocol.StopPlayback{Type: protocol.TypeStopPlayback, Reason: reason})
	conn := s.upstream()
	if conn == nil {
		s.log.Warn("interrupt with no upstream connection", "reason", reason)
		return
	}
	if err := conn.CancelResponse(); err != nil {
		s.log.Error("canceling upstream response failed", "reason", reason, "error", err)
	}
}

// UpdateScene pushes a new avatar scene through the regular
// session.update path, carrying the audio formats and turn detection so
// the server does not reset them to defaults.
func (s *Session) UpdateScene(raw json.RawMessage) {
	conn := s.upstream()
	if conn == nil {
		s.log.Warn("dropping scene update, no upstream connection")
		return
	}
	var avatar voicelive.AvatarConfig
	if err := json.Unmarshal(raw, &avatar); err != nil {
		s.log.Warn("invalid scene update payload", "error", err)
		return
	}
	req := &voicelive.RequestSession{
		Avatar:            &avatar,
		InputAudioFormat:  voicelive.AudioFormatPCM16,
		OutputAudioFormat: voicelive.AudioFormatPCM16,
		TurnDetection:     buildTurnDetection(s.cfg),
	}
	s.log.Info("updating avatar scene")
	if err := conn.UpdateSession(req); err != nil {
		s.log.Error("scene update failed", "error", err)
	}
}
