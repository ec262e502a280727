package bridge

import (
	"context"

	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

const audioOutputSampleRate = 24000

// handleEvent classifies one upstream event and emits the mapped
// client message. High-frequency delta kinds are exempt from per-event
// logging but still forwarded.
func (s *Session) handleEvent(ctx context.Context, conn Upstream, ev voicelive.ServerEvent) error {
	switch ev.Type {
	case voicelive.EventResponseAudioDelta:
		if ev.Delta != "" {
			s.send(protocol.AudioData{
				Type:       protocol.TypeAudioData,
				Data:       ev.Delta,
				Format:     voicelive.AudioFormatPCM16,
				SampleRate: audioOutputSampleRate,
			})
		}

	case voicelive.EventResponseAudioDone:
		s.send(protocol.AudioDone{Type: protocol.TypeAudioDone})

	case voicelive.EventResponseAudioTranscriptDelta:
		if ev.Delta != "" {
			s.send(protocol.TranscriptDelta{Type: protocol.TypeTranscriptDelta, Role: "assistant", Delta: ev.Delta})
		}

	case voicelive.EventResponseAudioTranscriptDone:
		s.send(protocol.TranscriptDone{Type: protocol.TypeTranscriptDone, Role: "assistant", Transcript: ev.Transcript})

	case voicelive.EventResponseTextDelta:
		if ev.Delta != "" {
			s.send(protocol.TextDelta{Type: protocol.TypeTextDelta, Delta: ev.Delta})
		}

	case voicelive.EventResponseTextDone:
		s.send(protocol.TextDone{Type: protocol.TypeTextDone, Text: ev.Text})

	case voicelive.EventResponseCreated:
		var responseID string
		if ev.Response != nil {
			responseID = ev.Response.ID
		}
		s.log.Info("response created", "response_id", responseID)
		s.send(protocol.ResponseCreated{Type: protocol.TypeResponseCreated, ResponseID: responseID})

	case voicelive.EventResponseDone:
		s.send(protocol.ResponseDone{Type: protocol.TypeResponseDone})

	case voicelive.EventInputAudioSpeechStarted:
		s.log.Info("user speech started", "item_id", ev.ItemID)
		s.send(protocol.SpeechStarted{Type: protocol.TypeSpeechStarted, ItemID: ev.ItemID})
		// Barge-in: stop local playback and cancel the in-flight turn.
		s.Interrupt(ReasonUserInterruption)

	case voicelive.EventInputAudioSpeechStopped:
		s.send(protocol.SpeechStopped{Type: protocol.TypeSpeechStopped})

	case voicelive.EventInputAudioTranscriptionCompleted:
		if ev.Transcript != "" {
			s.send(protocol.TranscriptDone{
				Type:       protocol.TypeTranscriptDone,
				Role:       "user",
				Transcript: ev.Transcript,
				ItemID:     ev.ItemID,
			})
		}

	case voicelive.EventSessionAvatarConnecting:
		s.handleAvatarConnecting(conn, ev)

	case voicelive.EventConversationItemCreated:
		return s.handleConversationItem(ctx, conn, ev)

	case voicelive.EventError:
		s.log.Error("upstream error event", "error", ev.Error.String())
		s.send(protocol.ErrorMessage{Type: protocol.TypeError, Error: ev.Error.String()})

	case voicelive.EventSessionUpdated:
		// Mid-session acknowledgement (scene updates); log for
		// diagnosing config resets.
		if ev.Session != nil {
			s.log.Info("session updated",
				"input_audio_format", ev.Session.InputAudioFormat,
				"output_audio_format", ev.Session.OutputAudioFormat)
		}

	case voicelive.EventResponseVideoDelta:
		if ev.Delta != "" {
			s.videoRecvCount++
			if s.videoRecvCount <= 5 || s.videoRecvCount%100 == 0 {
				s.log.Info("relaying video delta", "count", s.videoRecvCount, "delta_len", len(ev.Delta))
			}
			s.send(protocol.VideoData{Type: protocol.TypeVideoData, Delta: ev.Delta})
		}

	default:
		if _, seen := s.unknownEvents[ev.Type]; !seen {
			s.unknownEvents[ev.Type] = struct{}{}
			s.log.Warn("ignoring unknown upstream event type", "event", ev.Type)
		}
	}
	return nil
}

// handleAvatarConnecting relays the SDP answer and then fires the
// deferred proactive greeting exactly once. The greeting must never
// precede the answer relay.
func (s *Session) handleAvatarConnecting(conn Upstream, ev voicelive.ServerEvent) {
	if ev.ServerSDP == "" {
		return
	}
	s.send(protocol.AvatarSDPAnswer{Type: protocol.TypeAvatarSDPAnswer, ServerSDP: ev.ServerSDP})
	s.log.Info("relayed avatar sdp answer")

	if s.pendingGreeting {
		s.pendingGreeting = false
		if err := conn.CreateResponse(); err != nil {
			s.log.Error("deferred proactive greeting failed", "error", err)
		} else {
			s.log.Info("proactive greeting sent after avatar connect")
		}
	}
}
