package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/reliability"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

// CallStatus tracks one function call through its lifecycle.
type CallStatus string

const (
	CallAwaitingArguments    CallStatus = "awaiting_arguments"
	CallAwaitingResponseDone CallStatus = "awaiting_response_done"
	CallExecuting            CallStatus = "executing"
	CallCompleted            CallStatus = "completed"
	CallFailed               CallStatus = "failed"
	CallTimedOut             CallStatus = "timed_out"
)

// FunctionCallContext is the per-call state owned by the session's run
// goroutine; it leaves the in-flight map on any terminal status.
type FunctionCallContext struct {
	CallID    string
	Name      string
	ItemID    string
	Arguments string
	Status    CallStatus
}

// handleConversationItem reacts to conversation.item.created; only
// function-call items start the orchestration sub-protocol.
func (s *Session) handleConversationItem(ctx context.Context, conn Upstream, ev voicelive.ServerEvent) error {
	item := ev.Item
	if item == nil || item.Type != voicelive.ItemTypeFunctionCall || item.CallID == "" {
		return nil
	}

	// The argument and response-done waits consume the one ordered
	// event stream, so a second call cannot be orchestrated while the
	// first is in flight. Reject it explicitly instead of interleaving.
	if len(s.calls) > 0 {
		s.log.Warn("rejecting concurrent function call", "function", item.Name, "call_id", item.CallID)
		s.metrics.FunctionCalls.WithLabelValues("rejected_busy").Inc()
		s.send(protocol.FunctionCallError{
			Type:         protocol.TypeFunctionCallError,
			FunctionName: item.Name,
			CallID:       item.CallID,
			Error:        "another function call is already in progress",
		})
		return nil
	}

	fc := &FunctionCallContext{
		CallID: item.CallID,
		Name:   item.Name,
		ItemID: item.ID,
		Status: CallAwaitingArguments,
	}
	s.calls[fc.CallID] = fc
	defer delete(s.calls, fc.CallID)

	s.log.Info("function call started", "function", fc.Name, "call_id", fc.CallID)
	s.send(protocol.FunctionCallStarted{
		Type:         protocol.TypeFunctionCallStarted,
		FunctionName: fc.Name,
		CallID:       fc.CallID,
	})

	if err := s.orchestrateCall(ctx, conn, fc); err != nil {
		if reliability.ClassifyRecv(err) == reliability.RecvFatal || ctx.Err() != nil {
			return err
		}
		// Timeout and execution failure share one reporting path; the
		// session itself stays active.
		if fc.Status != CallTimedOut {
			fc.Status = CallFailed
		}
		s.metrics.FunctionCalls.WithLabelValues(string(fc.Status)).Inc()
		s.log.Error("function call failed", "function", fc.Name, "call_id", fc.CallID, "error", err)
		s.send(protocol.FunctionCallError{
			Type:         protocol.TypeFunctionCallError,
			FunctionName: fc.Name,
			CallID:       fc.CallID,
			Error:        err.Error(),
		})
	}
	return nil
}

// orchestrateCall drives one call to a terminal status. A call-id
// mismatch abandons the context without surfacing anything to the
// call's originator beyond the log.
func (s *Session) orchestrateCall(ctx context.Context, conn Upstream, fc *FunctionCallContext) error {
	argsEv, err := s.waitForEvent(ctx, conn, voicelive.EventResponseFunctionCallArgsDone, s.funcCallTimeout)
	if err != nil {
		if errors.Is(err, errWaitTimeout) {
			fc.Status = CallTimedOut
			return fmt.Errorf("timed out waiting for function call arguments")
		}
		return err
	}
	if argsEv.CallID != fc.CallID {
		s.log.Warn("function call id mismatch, abandoning",
			"function", fc.Name, "want", fc.CallID, "got", argsEv.CallID)
		s.metrics.FunctionCalls.WithLabelValues("mismatch").Inc()
		fc.Status = CallFailed
		return nil
	}
	fc.Arguments = argsEv.Arguments
	fc.Status = CallAwaitingResponseDone

	// Let the upstream finish emitting this turn before side effects.
	if _, err := s.waitForEvent(ctx, conn, voicelive.EventResponseDone, s.funcCallTimeout); err != nil {
		if errors.Is(err, errWaitTimeout) {
			fc.Status = CallTimedOut
			return fmt.Errorf("timed out waiting for response completion")
		}
		return err
	}

	fc.Status = CallExecuting
	result := s.funcs.Execute(fc.Name, fc.Arguments)
	fc.Status = CallCompleted
	s.metrics.FunctionCalls.WithLabelValues(string(CallCompleted)).Inc()
	s.log.Info("function call completed", "function", fc.Name, "call_id", fc.CallID)

	s.send(protocol.FunctionCallResult{
		Type:         protocol.TypeFunctionCallResult,
		FunctionName: fc.Name,
		CallID:       fc.CallID,
		Result:       result,
	})

	output, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode function output: %w", err)
	}
	if err := conn.CreateFunctionOutput(fc.ItemID, fc.CallID, string(output)); err != nil {
		return fmt.Errorf("submit function output: %w", err)
	}
	// Request a new turn so the conversation continues with the result.
	if err := conn.CreateResponse(); err != nil {
		return fmt.Errorf("request follow-up response: %w", err)
	}
	return nil
}
