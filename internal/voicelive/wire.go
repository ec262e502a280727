package voicelive

import "encoding/json"

// Wire schema for the session.update command. Optional sections are
// pointers so omitted config never serializes as zero values.

const (
	ModalityText  = "text"
	ModalityAudio = "audio"

	AudioFormatPCM16 = "pcm16"

	ToolChoiceAuto = "auto"
)

// Voice shape discriminators.
const (
	VoiceTypeAzureStandard = "azure-standard"
	VoiceTypeAzureCustom   = "azure-custom"
	VoiceTypeAzurePersonal = "azure-personal"
	VoiceTypeOpenAI        = "openai"
)

// VoiceConfig covers the four voice shapes; Type selects which optional
// fields are meaningful.
type VoiceConfig struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Temperature *float64 `json:"temperature,omitempty"`
	Rate        string   `json:"rate,omitempty"`
	EndpointID  string   `json:"endpoint_id,omitempty"` // azure-custom deployment
	Model       string   `json:"model,omitempty"`       // azure-personal base model
}

func AzureStandardVoice(name string, temperature *float64, rate string) *VoiceConfig {
	return &VoiceConfig{Type: VoiceTypeAzureStandard, Name: name, Temperature: temperature, Rate: rate}
}

func AzureCustomVoice(name, endpointID, rate string) *VoiceConfig {
	return &VoiceConfig{Type: VoiceTypeAzureCustom, Name: name, EndpointID: endpointID, Rate: rate}
}

func AzurePersonalVoice(name, model string, temperature *float64) *VoiceConfig {
	return &VoiceConfig{Type: VoiceTypeAzurePersonal, Name: name, Model: model, Temperature: temperature}
}

func OpenAIVoice(name string) *VoiceConfig {
	return &VoiceConfig{Type: VoiceTypeOpenAI, Name: name}
}

// VideoCrop is a pixel rectangle in the rendered 1920x1080 frame.
type VideoCrop struct {
	TopLeft     [2]int `json:"top_left"`
	BottomRight [2]int `json:"bottom_right"`
}

type Background struct {
	ImageURL string `json:"image_url,omitempty"`
}

type VideoParams struct {
	Codec      string      `json:"codec,omitempty"`
	Crop       *VideoCrop  `json:"crop,omitempty"`
	Background *Background `json:"background,omitempty"`
}

// AvatarScene positions a photo avatar: unit-fraction zoom/position/
// amplitude, radians for rotation.
type AvatarScene struct {
	Zoom      float64 `json:"zoom"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
	RotationX float64 `json:"rotation_x"`
	RotationY float64 `json:"rotation_y"`
	RotationZ float64 `json:"rotation_z"`
	Amplitude float64 `json:"amplitude"`
}

// AvatarConfig is the avatar section of session.update. The photo-avatar
// fields (Type, Model, Scene) and OutputProtocol are explicit optional
// members of the wire schema.
type AvatarConfig struct {
	Character      string       `json:"character"`
	Style          string       `json:"style,omitempty"`
	Customized     bool         `json:"customized,omitempty"`
	Video          *VideoParams `json:"video,omitempty"`
	Type           string       `json:"type,omitempty"`  // "photo-avatar"
	Model          string       `json:"model,omitempty"` // photo-avatar driver model
	Scene          *AvatarScene `json:"scene,omitempty"`
	OutputProtocol string       `json:"output_protocol,omitempty"` // "webrtc" | "websocket"
}

type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// Turn detection discriminators.
const (
	TurnDetectionServerVAD   = "server_vad"
	TurnDetectionSemanticVAD = "azure_semantic_vad"

	EOUModelSemanticV1 = "semantic_detection_v1"
)

type EOUDetection struct {
	Model          string `json:"model"`
	ThresholdLevel string `json:"threshold_level,omitempty"`
	TimeoutMs      int    `json:"timeout_ms,omitempty"`
}

type TurnDetection struct {
	Type              string        `json:"type"`
	Threshold         float64       `json:"threshold,omitempty"`
	PrefixPaddingMs   int           `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int           `json:"silence_duration_ms,omitempty"`
	SpeechDurationMs  int           `json:"speech_duration_ms,omitempty"`
	RemoveFillerWords *bool         `json:"remove_filler_words,omitempty"`
	InterruptResponse *bool         `json:"interrupt_response,omitempty"`
	EndOfUtterance    *EOUDetection `json:"end_of_utterance_detection,omitempty"`
}

// TypedOption is a {"type": ...} toggle (noise suppression, echo
// cancellation).
type TypedOption struct {
	Type string `json:"type"`
}

const (
	NoiseReductionAzureDeep    = "azure_deep_noise_suppression"
	EchoCancellationServerSide = "server_echo_cancellation"
)

// RequestSession is the session.update payload.
type RequestSession struct {
	Modalities                 []string             `json:"modalities,omitempty"`
	Instructions               string               `json:"instructions,omitempty"`
	Voice                      *VoiceConfig         `json:"voice,omitempty"`
	Avatar                     *AvatarConfig        `json:"avatar,omitempty"`
	InputAudioFormat           string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat          string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription    *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection              *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                      []json.RawMessage    `json:"tools,omitempty"`
	ToolChoice                 string               `json:"tool_choice,omitempty"`
	Temperature                *float64             `json:"temperature,omitempty"`
	InputAudioNoiseReduction   *TypedOption         `json:"input_audio_noise_reduction,omitempty"`
	InputAudioEchoCancellation *TypedOption         `json:"input_audio_echo_cancellation,omitempty"`
}

// Client→upstream commands.
type clientEvent struct {
	Type           string          `json:"type"`
	Session        *RequestSession `json:"session,omitempty"`
	Audio          string          `json:"audio,omitempty"`
	PreviousItemID string          `json:"previous_item_id,omitempty"`
	Item           *clientItem     `json:"item,omitempty"`
	ClientSDP      string          `json:"client_sdp,omitempty"`
}

type clientItem struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	Content []clientContentPart `json:"content,omitempty"`
	CallID  string              `json:"call_id,omitempty"`
	Output  string              `json:"output,omitempty"`
}

type clientContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
