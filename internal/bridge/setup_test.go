package bridge

import (
	"math"
	"testing"

	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

func TestBuildVoiceShapes(t *testing.T) {
	speed := 1.2

	t.Run("azure standard", func(t *testing.T) {
		v := buildVoice(protocol.SessionConfig{VoiceName: "en-US-AvaMultilingualNeural", VoiceSpeed: &speed})
		if v.Type != voicelive.VoiceTypeAzureStandard || v.Name != "en-US-AvaMultilingualNeural" {
			t.Fatalf("voice = %+v", v)
		}
		if v.Rate != "1.2" {
			t.Fatalf("rate = %q", v.Rate)
		}
		if v.Temperature != nil {
			t.Fatalf("non-Dragon standard voice must not carry temperature")
		}
	})

	t.Run("dragon voice carries temperature", func(t *testing.T) {
		temp := 0.7
		v := buildVoice(protocol.SessionConfig{VoiceName: "en-US-Dragon-HD-Neural", VoiceTemperature: &temp})
		if v.Temperature == nil || *v.Temperature != 0.7 {
			t.Fatalf("temperature = %v", v.Temperature)
		}
	})

	t.Run("openai bare name", func(t *testing.T) {
		v := buildVoice(protocol.SessionConfig{VoiceName: "alloy"})
		if v.Type != voicelive.VoiceTypeOpenAI || v.Name != "alloy" {
			t.Fatalf("voice = %+v", v)
		}
	})

	t.Run("custom", func(t *testing.T) {
		v := buildVoice(protocol.SessionConfig{
			VoiceType:         "custom",
			CustomVoiceName:   "my-voice",
			VoiceDeploymentID: "dep-1",
		})
		if v.Type != voicelive.VoiceTypeAzureCustom || v.EndpointID != "dep-1" {
			t.Fatalf("voice = %+v", v)
		}
	})

	t.Run("personal defaults model", func(t *testing.T) {
		v := buildVoice(protocol.SessionConfig{VoiceType: "personal", PersonalVoiceName: "me"})
		if v.Type != voicelive.VoiceTypeAzurePersonal || v.Model != "DragonLatestNeural" {
			t.Fatalf("voice = %+v", v)
		}
	})
}

func TestBuildAvatarStandard(t *testing.T) {
	a := buildAvatar(protocol.SessionConfig{AvatarEnabled: true, AvatarName: "Lisa-casual-sitting"})
	if a.Character != "lisa" || a.Style != "casual-sitting" {
		t.Fatalf("avatar = %+v", a)
	}
	if a.Video == nil || a.Video.Crop == nil {
		t.Fatalf("standard avatar must carry the centered crop")
	}
	if a.Video.Crop.TopLeft != [2]int{560, 0} || a.Video.Crop.BottomRight != [2]int{1360, 1080} {
		t.Fatalf("crop = %+v", a.Video.Crop)
	}
	if a.OutputProtocol != "webrtc" {
		t.Fatalf("output protocol = %q", a.OutputProtocol)
	}
	if a.Type != "" || a.Model != "" {
		t.Fatalf("standard avatar must not carry photo fields: %+v", a)
	}
}

func TestBuildAvatarDisabled(t *testing.T) {
	if a := buildAvatar(protocol.SessionConfig{}); a != nil {
		t.Fatalf("avatar = %+v, want nil", a)
	}
}

func TestBuildAvatarPhoto(t *testing.T) {
	a := buildAvatar(protocol.SessionConfig{
		AvatarEnabled:   true,
		IsPhotoAvatar:   true,
		PhotoAvatarName: "Anika",
		PhotoScene: &protocol.PhotoScene{
			Zoom:      50,
			PositionX: 10,
			PositionY: -5,
			RotationX: 90,
			Amplitude: 100,
		},
	})
	if a.Type != "photo-avatar" || a.Model != "vasa-1" {
		t.Fatalf("avatar = %+v", a)
	}
	if a.Video.Crop != nil {
		t.Fatalf("photo avatars must not be cropped")
	}
	s := a.Scene
	if s == nil {
		t.Fatalf("scene missing")
	}
	// Percent to unit fraction, degrees to radians.
	if s.Zoom != 0.5 || s.PositionX != 0.1 || s.PositionY != -0.05 || s.Amplitude != 1 {
		t.Fatalf("scene = %+v", s)
	}
	if math.Abs(s.RotationX-math.Pi/2) > 1e-9 {
		t.Fatalf("rotationX = %v, want pi/2", s.RotationX)
	}
}

func TestBuildAvatarCustom(t *testing.T) {
	a := buildAvatar(protocol.SessionConfig{
		AvatarEnabled:    true,
		IsCustomAvatar:   true,
		CustomAvatarName: "BrandedHost",
		AvatarOutputMode: "websocket",
	})
	if !a.Customized || a.Character != "BrandedHost" {
		t.Fatalf("avatar = %+v", a)
	}
	if a.OutputProtocol != "websocket" {
		t.Fatalf("output protocol = %q", a.OutputProtocol)
	}
}

func TestBuildTranscription(t *testing.T) {
	cases := []struct {
		name     string
		cfg      protocol.SessionConfig
		model    string
		language string
	}{
		{"default", protocol.SessionConfig{}, "azure-speech", ""},
		{"whisper for realtime models", protocol.SessionConfig{Model: "gpt-4o-realtime-preview"}, "whisper-1", ""},
		{"explicit language", protocol.SessionConfig{RecognitionLanguage: "de-DE"}, "azure-speech", "de-DE"},
		{"mai-ears drops language", protocol.SessionConfig{SRModel: "mai-ears-1", RecognitionLanguage: "de-DE"}, "mai-ears-1", ""},
		{"agent mode keeps sr model", protocol.SessionConfig{Mode: "agent", Model: "gpt-4o-realtime-preview"}, "azure-speech", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildTranscription(tc.cfg)
			if got.Model != tc.model || got.Language != tc.language {
				t.Fatalf("transcription = %+v, want model=%q language=%q", got, tc.model, tc.language)
			}
		})
	}
}

func TestBuildTurnDetection(t *testing.T) {
	t.Run("server vad default", func(t *testing.T) {
		td := buildTurnDetection(protocol.SessionConfig{})
		if td.Type != voicelive.TurnDetectionServerVAD {
			t.Fatalf("type = %q", td.Type)
		}
		if td.Threshold != 0.3 || td.PrefixPaddingMs != 300 || td.SilenceDurationMs != 500 {
			t.Fatalf("vad params = %+v", td)
		}
		if td.EndOfUtterance != nil {
			t.Fatalf("server vad must not carry EOU detection")
		}
	})

	t.Run("semantic vad with EOU", func(t *testing.T) {
		td := buildTurnDetection(protocol.SessionConfig{
			TurnDetectionType: voicelive.TurnDetectionSemanticVAD,
			EOUDetectionType:  voicelive.EOUModelSemanticV1,
			RemoveFillerWords: true,
		})
		if td.Type != voicelive.TurnDetectionSemanticVAD || td.SpeechDurationMs != 80 {
			t.Fatalf("td = %+v", td)
		}
		if td.RemoveFillerWords == nil || !*td.RemoveFillerWords {
			t.Fatalf("remove_filler_words not set")
		}
		if td.InterruptResponse == nil || !*td.InterruptResponse {
			t.Fatalf("interrupt_response not set")
		}
		eou := td.EndOfUtterance
		if eou == nil || eou.Model != voicelive.EOUModelSemanticV1 || eou.TimeoutMs != 1000 {
			t.Fatalf("eou = %+v", eou)
		}
	})
}

func TestBuildRequestSession(t *testing.T) {
	req := buildRequestSession(protocol.SessionConfig{
		Instructions: "be brief",
		Tools: []protocol.Tool{
			{Type: "function", Name: "get_time"},
		},
		UseNS: true,
		UseEC: true,
	})
	if req.InputAudioFormat != "pcm16" || req.OutputAudioFormat != "pcm16" {
		t.Fatalf("audio formats = %q/%q", req.InputAudioFormat, req.OutputAudioFormat)
	}
	if len(req.Tools) != 1 || req.ToolChoice != voicelive.ToolChoiceAuto {
		t.Fatalf("tools = %d choice = %q", len(req.Tools), req.ToolChoice)
	}
	if req.Temperature == nil || *req.Temperature != 0.9 {
		t.Fatalf("temperature = %v", req.Temperature)
	}
	if req.InputAudioNoiseReduction == nil || req.InputAudioNoiseReduction.Type != voicelive.NoiseReductionAzureDeep {
		t.Fatalf("noise reduction = %+v", req.InputAudioNoiseReduction)
	}
	if req.InputAudioEchoCancellation == nil || req.InputAudioEchoCancellation.Type != voicelive.EchoCancellationServerSide {
		t.Fatalf("echo cancellation = %+v", req.InputAudioEchoCancellation)
	}
}

func TestBuildRequestSessionAgentV2OmitsTemperature(t *testing.T) {
	req := buildRequestSession(protocol.SessionConfig{Mode: "agent-v2"})
	if req.Temperature != nil {
		t.Fatalf("temperature = %v, want omitted for hosted v2 agents", req.Temperature)
	}
}
