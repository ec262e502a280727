package voicelive

import (
	"encoding/json"
	"fmt"

	"github.com/ambralabs/voicebridge/internal/reliability"
)

// EventType tags upstream server events.
type EventType string

const (
	EventSessionUpdated                   EventType = "session.updated"
	EventSessionAvatarConnecting          EventType = "session.avatar.connecting"
	EventResponseCreated                  EventType = "response.created"
	EventResponseDone                     EventType = "response.done"
	EventResponseAudioDelta               EventType = "response.audio.delta"
	EventResponseAudioDone                EventType = "response.audio.done"
	EventResponseAudioTranscriptDelta     EventType = "response.audio_transcript.delta"
	EventResponseAudioTranscriptDone      EventType = "response.audio_transcript.done"
	EventResponseTextDelta                EventType = "response.text.delta"
	EventResponseTextDone                 EventType = "response.text.done"
	EventResponseFunctionCallArgsDone     EventType = "response.function_call_arguments.done"
	EventInputAudioSpeechStarted          EventType = "input_audio_buffer.speech_started"
	EventInputAudioSpeechStopped          EventType = "input_audio_buffer.speech_stopped"
	EventConversationItemCreated          EventType = "conversation.item.created"
	EventInputAudioTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	EventResponseVideoDelta               EventType = "response.video.delta"
	EventError                            EventType = "error"
)

// ItemTypeFunctionCall marks conversation items that carry a tool call.
const ItemTypeFunctionCall = "function_call"

// ConversationItem is the item payload of conversation.item.created.
type ConversationItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	CallID string `json:"call_id"`
	Role   string `json:"role"`
}

// ResponseInfo identifies a generation turn.
type ResponseInfo struct {
	ID string `json:"id"`
}

// ICEServer is the TURN/STUN descriptor relayed to the browser for the
// avatar peer connection.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SessionAvatarInfo is the avatar section of an acknowledged session.
type SessionAvatarInfo struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

// SessionInfo is the session snapshot echoed in session.updated.
type SessionInfo struct {
	ID                string             `json:"id"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	Avatar            *SessionAvatarInfo `json:"avatar"`
}

// ErrorInfo is the payload of an upstream error event.
type ErrorInfo struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) String() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// ServerEvent is the closed union of upstream events. Only the fields
// meaningful for the event's Type are populated; everything else stays
// zero. Unknown event types decode with their raw tag preserved so the
// dispatcher can log and skip them.
type ServerEvent struct {
	Type EventType

	Delta      string // audio (base64) / transcript / text / video deltas
	Transcript string
	Text       string
	ItemID     string
	CallID     string
	Arguments  string
	ServerSDP  string

	Item     *ConversationItem
	Response *ResponseInfo
	Session  *SessionInfo
	Error    *ErrorInfo
}

type wireServerEvent struct {
	Type       EventType         `json:"type"`
	Delta      string            `json:"delta"`
	Transcript string            `json:"transcript"`
	Text       string            `json:"text"`
	ItemID     string            `json:"item_id"`
	CallID     string            `json:"call_id"`
	Arguments  string            `json:"arguments"`
	ServerSDP  string            `json:"server_sdp"`
	Item       *ConversationItem `json:"item"`
	Response   *ResponseInfo     `json:"response"`
	Session    *SessionInfo      `json:"session"`
	Error      *ErrorInfo        `json:"error"`
}

// decodeServerEvent turns one websocket frame into a ServerEvent. A
// malformed frame is a recoverable error: the caller logs it and keeps
// the event loop alive.
func decodeServerEvent(raw []byte) (ServerEvent, error) {
	var w wireServerEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return ServerEvent{}, reliability.Recoverable(fmt.Errorf("decode server event: %w", err))
	}
	if w.Type == "" {
		return ServerEvent{}, reliability.Recoverable(fmt.Errorf("server event missing type"))
	}
	return ServerEvent{
		Type:       w.Type,
		Delta:      w.Delta,
		Transcript: w.Transcript,
		Text:       w.Text,
		ItemID:     w.ItemID,
		CallID:     w.CallID,
		Arguments:  w.Arguments,
		ServerSDP:  w.ServerSDP,
		Item:       w.Item,
		Response:   w.Response,
		Session:    w.Session,
		Error:      w.Error,
	}, nil
}
