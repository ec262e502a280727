package protocol

// Outbound message structs. Only the bridge constructs these.

// ICEServer mirrors the RTCIceServer shape the browser expects.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// StartedConfig echoes the negotiated basics back to the client.
type StartedConfig struct {
	Model            string `json:"model"`
	AvatarEnabled    bool   `json:"avatarEnabled"`
	AvatarOutputMode string `json:"avatarOutputMode"`
}

type SessionStarted struct {
	Type      MessageType   `json:"type"`
	Status    string        `json:"status"`
	SessionID string        `json:"sessionId"`
	Config    StartedConfig `json:"config"`
}

type SessionError struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

type ICEServers struct {
	Type       MessageType `json:"type"`
	ICEServers []ICEServer `json:"iceServers"`
}

type AudioData struct {
	Type       MessageType `json:"type"`
	Data       string      `json:"data"`
	Format     string      `json:"format"`
	SampleRate int         `json:"sampleRate"`
}

type AudioDone struct {
	Type MessageType `json:"type"`
}

type TranscriptDelta struct {
	Type  MessageType `json:"type"`
	Role  string      `json:"role"`
	Delta string      `json:"delta"`
}

type TranscriptDone struct {
	Type       MessageType `json:"type"`
	Role       string      `json:"role"`
	Transcript string      `json:"transcript"`
	ItemID     string      `json:"itemId,omitempty"`
}

type TextDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type TextDone struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ResponseCreated struct {
	Type       MessageType `json:"type"`
	ResponseID string      `json:"responseId"`
}

type ResponseDone struct {
	Type MessageType `json:"type"`
}

type SpeechStarted struct {
	Type   MessageType `json:"type"`
	ItemID string      `json:"itemId"`
}

type SpeechStopped struct {
	Type MessageType `json:"type"`
}

type AvatarSDPAnswer struct {
	Type      MessageType `json:"type"`
	ServerSDP string      `json:"serverSdp"`
}

type VideoData struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type FunctionCallStarted struct {
	Type         MessageType `json:"type"`
	FunctionName string      `json:"functionName"`
	CallID       string      `json:"callId"`
}

type FunctionCallResult struct {
	Type         MessageType `json:"type"`
	FunctionName string      `json:"functionName"`
	CallID       string      `json:"callId"`
	Result       any         `json:"result"`
}

type FunctionCallError struct {
	Type         MessageType `json:"type"`
	FunctionName string      `json:"functionName"`
	CallID       string      `json:"callId"`
	Error        string      `json:"error"`
}

type StopPlayback struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// TypeOf reports the tag of any outbound or inbound message struct.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case StartSession:
		return m.Type, true
	case StopSession:
		return m.Type, true
	case AudioChunk:
		return m.Type, true
	case SendText:
		return m.Type, true
	case AvatarSDPOffer:
		return m.Type, true
	case Interrupt:
		return m.Type, true
	case UpdateScene:
		return m.Type, true
	case SessionStarted:
		return m.Type, true
	case SessionError:
		return m.Type, true
	case ICEServers:
		return m.Type, true
	case AudioData:
		return m.Type, true
	case AudioDone:
		return m.Type, true
	case TranscriptDelta:
		return m.Type, true
	case TranscriptDone:
		return m.Type, true
	case TextDelta:
		return m.Type, true
	case TextDone:
		return m.Type, true
	case ResponseCreated:
		return m.Type, true
	case ResponseDone:
		return m.Type, true
	case SpeechStarted:
		return m.Type, true
	case SpeechStopped:
		return m.Type, true
	case AvatarSDPAnswer:
		return m.Type, true
	case VideoData:
		return m.Type, true
	case FunctionCallStarted:
		return m.Type, true
	case FunctionCallResult:
		return m.Type, true
	case FunctionCallError:
		return m.Type, true
	case StopPlayback:
		return m.Type, true
	case ErrorMessage:
		return m.Type, true
	default:
		return "", false
	}
}
