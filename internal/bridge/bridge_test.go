package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ambralabs/voicebridge/internal/observability"
	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/reliability"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

// promauto registers on the global registry, so the whole test binary
// shares one Metrics instance.
var testMetrics = observability.NewMetrics("bridgetest")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func errAny() error {
	return errors.New("boom")
}

// fakeFrame is one scripted Recv outcome.
type fakeFrame struct {
	ev  voicelive.ServerEvent
	err error
}

// fakeUpstream scripts the upstream side of a session. Tests feed
// frames to the recv channel and inspect the recorded write commands.
type fakeUpstream struct {
	frames chan fakeFrame

	mu      sync.Mutex
	ops     []fakeOp
	updates []*voicelive.RequestSession
	closed  bool

	cancelErr error // returned by CancelResponse when set
}

type fakeOp struct {
	name string
	arg  string
	argB string
	argC string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{frames: make(chan fakeFrame, 64)}
}

func (f *fakeUpstream) push(ev voicelive.ServerEvent) {
	f.frames <- fakeFrame{ev: ev}
}

func (f *fakeUpstream) pushErr(err error) {
	f.frames <- fakeFrame{err: err}
}

// dropUpstream ends the scripted stream the way a lost connection does:
// the channel closes and every later Recv reports the same fatal error.
func (f *fakeUpstream) dropUpstream() {
	close(f.frames)
}

func (f *fakeUpstream) Recv(ctx context.Context) (voicelive.ServerEvent, error) {
	select {
	case <-ctx.Done():
		return voicelive.ServerEvent{}, ctx.Err()
	case fr, ok := <-f.frames:
		if !ok {
			return voicelive.ServerEvent{}, reliability.Fatal(errors.New("connection closed"))
		}
		return fr.ev, fr.err
	}
}

func (f *fakeUpstream) record(op fakeOp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeUpstream) UpdateSession(session *voicelive.RequestSession) error {
	f.mu.Lock()
	f.updates = append(f.updates, session)
	f.ops = append(f.ops, fakeOp{name: "session.update"})
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) AppendInputAudio(audioBase64 string) error {
	f.record(fakeOp{name: "input_audio_buffer.append", arg: audioBase64})
	return nil
}

func (f *fakeUpstream) CreateUserMessage(text string) error {
	f.record(fakeOp{name: "conversation.item.create", arg: text})
	return nil
}

func (f *fakeUpstream) CreateFunctionOutput(previousItemID, callID, output string) error {
	f.record(fakeOp{name: "function_output.create", arg: previousItemID, argB: callID, argC: output})
	return nil
}

func (f *fakeUpstream) CreateResponse() error {
	f.record(fakeOp{name: "response.create"})
	return nil
}

func (f *fakeUpstream) CancelResponse() error {
	f.record(fakeOp{name: "response.cancel"})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeUpstream) AvatarConnect(clientSDP string) error {
	f.record(fakeOp{name: "session.avatar.connect", arg: clientSDP})
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) opNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.ops))
	for i, op := range f.ops {
		names[i] = op.name
	}
	return names
}

func (f *fakeUpstream) countOp(name string) int {
	n := 0
	for _, op := range f.opNames() {
		if op == name {
			n++
		}
	}
	return n
}

func (f *fakeUpstream) findOp(name string) (fakeOp, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops {
		if op.name == name {
			return op, true
		}
	}
	return fakeOp{}, false
}

// waitOp polls until the named command has been issued count times.
func (f *fakeUpstream) waitOp(t *testing.T, name string, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.countOp(name) >= count {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("upstream command %q not issued %d times; ops: %v", name, count, f.opNames())
}

// msgRecorder collects everything the session sends to the client.
type msgRecorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *msgRecorder) send(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *msgRecorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *msgRecorder) types() []protocol.MessageType {
	var out []protocol.MessageType
	for _, m := range r.snapshot() {
		if t, ok := protocol.TypeOf(m); ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *msgRecorder) count(typ protocol.MessageType) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

// waitFor polls until the nth message of the given type arrives and
// returns it.
func (r *msgRecorder) waitFor(t *testing.T, typ protocol.MessageType) any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range r.snapshot() {
			if got, ok := protocol.TypeOf(m); ok && got == typ {
				return m
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("message %q never sent; got %v", typ, r.types())
	return nil
}

func sessionUpdatedEvent(id string, ice []voicelive.ICEServer) voicelive.ServerEvent {
	ev := voicelive.ServerEvent{
		Type:    voicelive.EventSessionUpdated,
		Session: &voicelive.SessionInfo{ID: id, InputAudioFormat: "pcm16", OutputAudioFormat: "pcm16"},
	}
	if len(ice) > 0 {
		ev.Session.Avatar = &voicelive.SessionAvatarInfo{ICEServers: ice}
	}
	return ev
}

// startTestSession wires a session to the fake upstream and runs it
// until cleanup.
func startTestSession(t *testing.T, cfg protocol.SessionConfig, up *fakeUpstream, rec *msgRecorder) *Session {
	t.Helper()
	s := newSession("client-1", cfg, voicelive.Config{
		Endpoint:   "https://res.cognitiveservices.azure.com",
		APIKey:     "key",
		Model:      "gpt-4o-realtime-preview",
		APIVersion: "2025-05-01-preview",
	}, sessionDeps{
		dial:            func(context.Context, voicelive.Config) (Upstream, error) { return up, nil },
		send:            rec.send,
		funcs:           NewBuiltinRegistry(),
		metrics:         testMetrics,
		log:             testLogger(),
		setupTimeout:    250 * time.Millisecond,
		funcCallTimeout: 250 * time.Millisecond,
	})
	s.start()
	t.Cleanup(s.stop)
	return s
}
