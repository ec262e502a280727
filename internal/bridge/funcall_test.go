package bridge

import (
	"strings"
	"testing"
	"time"

	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

func functionCallItem(itemID, callID, name string) voicelive.ServerEvent {
	return voicelive.ServerEvent{
		Type: voicelive.EventConversationItemCreated,
		Item: &voicelive.ConversationItem{
			ID:     itemID,
			Type:   voicelive.ItemTypeFunctionCall,
			Name:   name,
			CallID: callID,
		},
	}
}

func TestFunctionCallHappyPath(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(functionCallItem("item-9", "call-1", "calculate"))
	up.push(voicelive.ServerEvent{
		Type:      voicelive.EventResponseFunctionCallArgsDone,
		CallID:    "call-1",
		Arguments: `{"expression":"2+3*4"}`,
	})
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseDone})

	started := rec.waitFor(t, protocol.TypeFunctionCallStarted).(protocol.FunctionCallStarted)
	if started.FunctionName != "calculate" || started.CallID != "call-1" {
		t.Fatalf("function_call_started = %+v", started)
	}

	result := rec.waitFor(t, protocol.TypeFunctionCallResult).(protocol.FunctionCallResult)
	payload, ok := result.Result.(map[string]any)
	if !ok || payload["result"] != "14" {
		t.Fatalf("function_call_result = %+v", result.Result)
	}

	up.waitOp(t, "function_output.create", 1)
	op, _ := up.findOp("function_output.create")
	if op.arg != "item-9" || op.argB != "call-1" {
		t.Fatalf("function output anchored at %q for call %q", op.arg, op.argB)
	}
	if !strings.Contains(op.argC, `"14"`) {
		t.Fatalf("function output payload = %q", op.argC)
	}
	// The follow-up turn so the model speaks the result.
	up.waitOp(t, "response.create", 1)

	if rec.count(protocol.TypeFunctionCallError) != 0 {
		t.Fatalf("unexpected function_call_error")
	}
}

func TestFunctionCallIDMismatchAbandons(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(functionCallItem("item-9", "call-1", "get_time"))
	up.push(voicelive.ServerEvent{
		Type:      voicelive.EventResponseFunctionCallArgsDone,
		CallID:    "call-other",
		Arguments: `{}`,
	})

	rec.waitFor(t, protocol.TypeFunctionCallStarted)

	// The mismatch abandons the call silently: no result, no error, no
	// output submission, and the next event still flows.
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseTextDelta, Delta: "after"})
	rec.waitFor(t, protocol.TypeTextDelta)

	if rec.count(protocol.TypeFunctionCallResult) != 0 {
		t.Fatalf("result sent for mismatched call")
	}
	if rec.count(protocol.TypeFunctionCallError) != 0 {
		t.Fatalf("error sent for mismatched call")
	}
	if n := up.countOp("function_output.create"); n != 0 {
		t.Fatalf("function output submitted %d times after mismatch", n)
	}
}

func TestFunctionCallArgumentsTimeout(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	s := startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(functionCallItem("item-9", "call-1", "get_weather"))
	// Arguments never arrive.

	msg := rec.waitFor(t, protocol.TypeFunctionCallError).(protocol.FunctionCallError)
	if msg.CallID != "call-1" || !strings.Contains(msg.Error, "timed out") {
		t.Fatalf("function_call_error = %+v", msg)
	}
	if rec.count(protocol.TypeFunctionCallError) != 1 {
		t.Fatalf("want exactly one function_call_error, got %d", rec.count(protocol.TypeFunctionCallError))
	}

	// The session survives a timed-out call.
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseTextDelta, Delta: "alive"})
	rec.waitFor(t, protocol.TypeTextDelta)
	if s.State() != StateActive {
		t.Fatalf("state = %v, want active", s.State())
	}
}

func TestConcurrentFunctionCallRejected(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(functionCallItem("item-1", "call-1", "get_time"))
	// Second call arrives while the first is still waiting for its
	// arguments.
	up.push(functionCallItem("item-2", "call-2", "get_weather"))
	up.push(voicelive.ServerEvent{
		Type:      voicelive.EventResponseFunctionCallArgsDone,
		CallID:    "call-1",
		Arguments: `{}`,
	})
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseDone})

	rejected := rec.waitFor(t, protocol.TypeFunctionCallError).(protocol.FunctionCallError)
	if rejected.CallID != "call-2" || !strings.Contains(rejected.Error, "already in progress") {
		t.Fatalf("busy rejection = %+v", rejected)
	}

	result := rec.waitFor(t, protocol.TypeFunctionCallResult).(protocol.FunctionCallResult)
	if result.CallID != "call-1" {
		t.Fatalf("completed call = %q, want call-1", result.CallID)
	}
	if n := up.countOp("function_output.create"); n != 1 {
		t.Fatalf("function outputs = %d, want 1", n)
	}
}

func TestUnknownFunctionCompletesWithErrorPayload(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(functionCallItem("item-9", "call-1", "launch_rocket"))
	up.push(voicelive.ServerEvent{
		Type:      voicelive.EventResponseFunctionCallArgsDone,
		CallID:    "call-1",
		Arguments: `{}`,
	})
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseDone})

	// Unknown names complete normally; the failure lives inside the
	// payload so the model can apologize.
	result := rec.waitFor(t, protocol.TypeFunctionCallResult).(protocol.FunctionCallResult)
	payload := result.Result.(map[string]any)
	if payload["error"] != "unknown function: launch_rocket" {
		t.Fatalf("payload = %+v", payload)
	}
	up.waitOp(t, "function_output.create", 1)
}

func TestNonFunctionItemIgnored(t *testing.T) {
	up := newFakeUpstream()
	proactive := false
	up.push(sessionUpdatedEvent("sess-1", nil))
	rec := &msgRecorder{}

	startTestSession(t, protocol.SessionConfig{EnableProactive: &proactive}, up, rec)
	rec.waitFor(t, protocol.TypeSessionStarted)

	up.push(voicelive.ServerEvent{
		Type: voicelive.EventConversationItemCreated,
		Item: &voicelive.ConversationItem{ID: "item-1", Type: "message", Role: "user"},
	})
	up.push(voicelive.ServerEvent{Type: voicelive.EventResponseTextDelta, Delta: "next"})

	rec.waitFor(t, protocol.TypeTextDelta)
	time.Sleep(10 * time.Millisecond)
	if rec.count(protocol.TypeFunctionCallStarted) != 0 {
		t.Fatalf("message item treated as function call")
	}
}
