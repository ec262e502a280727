package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Inbound client commands.
const (
	TypeStartSession   MessageType = "start_session"
	TypeStopSession    MessageType = "stop_session"
	TypeAudioChunk     MessageType = "audio_chunk"
	TypeSendText       MessageType = "send_text"
	TypeAvatarSDPOffer MessageType = "avatar_sdp_offer"
	TypeInterrupt      MessageType = "interrupt"
	TypeUpdateScene    MessageType = "update_scene"
)

// Outbound client messages.
const (
	TypeSessionStarted      MessageType = "session_started"
	TypeSessionError        MessageType = "session_error"
	TypeICEServers          MessageType = "ice_servers"
	TypeAudioData           MessageType = "audio_data"
	TypeAudioDone           MessageType = "audio_done"
	TypeTranscriptDelta     MessageType = "transcript_delta"
	TypeTranscriptDone      MessageType = "transcript_done"
	TypeTextDelta           MessageType = "text_delta"
	TypeTextDone            MessageType = "text_done"
	TypeResponseCreated     MessageType = "response_created"
	TypeResponseDone        MessageType = "response_done"
	TypeSpeechStarted       MessageType = "speech_started"
	TypeSpeechStopped       MessageType = "speech_stopped"
	TypeAvatarSDPAnswer     MessageType = "avatar_sdp_answer"
	TypeVideoData           MessageType = "video_data"
	TypeFunctionCallStarted MessageType = "function_call_started"
	TypeFunctionCallResult  MessageType = "function_call_result"
	TypeFunctionCallError   MessageType = "function_call_error"
	TypeStopPlayback        MessageType = "stop_playback"
	TypeError               MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// PhotoScene carries client-side units (percent, degrees); the upstream
// wire schema uses unit fractions and radians.
type PhotoScene struct {
	Zoom      float64 `json:"zoom"`
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`
	RotationX float64 `json:"rotationX"`
	RotationY float64 `json:"rotationY"`
	RotationZ float64 `json:"rotationZ"`
	Amplitude float64 `json:"amplitude"`
}

// Tool is an upstream function declaration, passed through verbatim.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// SessionConfig is the configuration surface accepted inside
// start_session. Zero values select the server-side defaults.
type SessionConfig struct {
	Model            string `json:"model,omitempty"`
	Mode             string `json:"mode,omitempty"` // "model" | "agent" | "agent-v2"
	AgentID          string `json:"agentId,omitempty"`
	AgentName        string `json:"agentName,omitempty"`
	AgentProjectName string `json:"agentProjectName,omitempty"`

	// Per-session credential overrides; fall back to the server env.
	// A bearer token outranks the API key when both are present.
	Endpoint   string `json:"endpoint,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	EntraToken string `json:"entraToken,omitempty"`

	Instructions string   `json:"instructions,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`

	VoiceType         string   `json:"voiceType,omitempty"` // "standard" | "custom" | "personal"
	VoiceName         string   `json:"voiceName,omitempty"`
	VoiceTemperature  *float64 `json:"voiceTemperature,omitempty"`
	VoiceSpeed        *float64 `json:"voiceSpeed,omitempty"`
	CustomVoiceName   string   `json:"customVoiceName,omitempty"`
	VoiceDeploymentID string   `json:"voiceDeploymentId,omitempty"`
	PersonalVoiceName string   `json:"personalVoiceName,omitempty"`
	PersonalVoiceMdl  string   `json:"personalVoiceModel,omitempty"`

	AvatarEnabled         bool        `json:"avatarEnabled,omitempty"`
	AvatarName            string      `json:"avatarName,omitempty"`
	IsCustomAvatar        bool        `json:"isCustomAvatar,omitempty"`
	CustomAvatarName      string      `json:"customAvatarName,omitempty"`
	IsPhotoAvatar         bool        `json:"isPhotoAvatar,omitempty"`
	PhotoAvatarName       string      `json:"photoAvatarName,omitempty"`
	PhotoScene            *PhotoScene `json:"photoScene,omitempty"`
	AvatarBackgroundImage string      `json:"avatarBackgroundImageUrl,omitempty"`
	AvatarOutputMode      string      `json:"avatarOutputMode,omitempty"` // "webrtc" | "websocket"

	TurnDetectionType string `json:"turnDetectionType,omitempty"` // "server_vad" | "azure_semantic_vad"
	EOUDetectionType  string `json:"eouDetectionType,omitempty"`  // "none" | "semantic_detection_v1"
	RemoveFillerWords bool   `json:"removeFillerWords,omitempty"`

	SRModel             string `json:"srModel,omitempty"`
	RecognitionLanguage string `json:"recognitionLanguage,omitempty"`

	UseNS bool `json:"useNS,omitempty"`
	UseEC bool `json:"useEC,omitempty"`

	EnableProactive *bool  `json:"enableProactive,omitempty"`
	Tools           []Tool `json:"tools,omitempty"`
}

// Proactive reports the proactive-greeting opt-in; the default is on.
func (c SessionConfig) Proactive() bool {
	if c.EnableProactive == nil {
		return true
	}
	return *c.EnableProactive
}

type StartSession struct {
	Type   MessageType   `json:"type"`
	Config SessionConfig `json:"config"`
}

type StopSession struct {
	Type MessageType `json:"type"`
}

type AudioChunk struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type SendText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AvatarSDPOffer struct {
	Type      MessageType `json:"type"`
	ClientSDP string      `json:"clientSdp"`
}

type Interrupt struct {
	Type MessageType `json:"type"`
}

type UpdateScene struct {
	Type   MessageType     `json:"type"`
	Avatar json.RawMessage `json:"avatar"`
}

// ParseClientCommand decodes one inbound websocket payload into its
// concrete command type.
func ParseClientCommand(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeStopSession:
		var msg StopSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid audio_chunk: empty data")
		}
		return msg, nil
	case TypeSendText:
		var msg SendText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid send_text: empty text")
		}
		return msg, nil
	case TypeAvatarSDPOffer:
		var msg AvatarSDPOffer
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ClientSDP == "" {
			return nil, errors.New("invalid avatar_sdp_offer: empty clientSdp")
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUpdateScene:
		var msg UpdateScene
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len(msg.Avatar) == 0 {
			return nil, errors.New("invalid update_scene: missing avatar")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
