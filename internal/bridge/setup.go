package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ambralabs/voicebridge/internal/protocol"
	"github.com/ambralabs/voicebridge/internal/voicelive"
)

// Defaults mirrored from the browser config surface.
const (
	defaultAvatarName      = "Lisa-casual-sitting"
	defaultPhotoAvatarName = "Anika"
	defaultPersonalModel   = "DragonLatestNeural"
	defaultSRModel         = "azure-speech"

	avatarModeWebRTC    = "webrtc"
	avatarModeWebSocket = "websocket"
)

// setup negotiates session parameters before any media flows: send the
// configure command, wait for the acknowledgement (routing every
// intervening event through the translator), relay ICE servers for
// webrtc avatars, announce the session, and apply the greeting policy.
func (s *Session) setup(ctx context.Context, conn Upstream) error {
	started := time.Now()
	req := buildRequestSession(s.cfg)

	s.log.Info("configuring session",
		"model", s.cfg.Model,
		"avatar_enabled", s.cfg.AvatarEnabled,
		"avatar_output_mode", avatarOutputMode(s.cfg),
		"turn_detection", turnDetectionType(s.cfg))
	if err := conn.UpdateSession(req); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}

	ack, err := s.waitForEvent(ctx, conn, voicelive.EventSessionUpdated, s.setupTimeout)
	if err != nil {
		if errors.Is(err, errWaitTimeout) {
			return ErrSetupTimeout
		}
		return err
	}
	s.metrics.SetupDuration.Observe(float64(time.Since(started).Milliseconds()))

	var sessionID string
	if ack.Session != nil {
		sessionID = ack.Session.ID
	}
	s.log.Info("session configured", "session_id", sessionID)

	outputMode := avatarOutputMode(s.cfg)
	if s.cfg.AvatarEnabled && outputMode == avatarModeWebRTC {
		if servers := iceServersOf(ack); len(servers) > 0 {
			s.send(protocol.ICEServers{Type: protocol.TypeICEServers, ICEServers: servers})
			s.log.Info("relayed ice servers", "count", len(servers))
		}
	}

	s.send(protocol.SessionStarted{
		Type:      protocol.TypeSessionStarted,
		Status:    "success",
		SessionID: sessionID,
		Config: protocol.StartedConfig{
			Model:            s.cfg.Model,
			AvatarEnabled:    s.cfg.AvatarEnabled,
			AvatarOutputMode: outputMode,
		},
	})

	// Greeting policy: webrtc avatars defer the proactive greeting until
	// the avatar signaling completes; everything else greets now.
	switch {
	case !s.cfg.AvatarEnabled, outputMode == avatarModeWebSocket:
		if s.cfg.Proactive() {
			if err := conn.CreateResponse(); err != nil {
				s.log.Error("proactive greeting failed", "error", err)
			} else {
				s.log.Info("proactive greeting sent")
			}
		}
	default:
		s.pendingGreeting = s.cfg.Proactive()
	}
	return nil
}

func iceServersOf(ack voicelive.ServerEvent) []protocol.ICEServer {
	if ack.Session == nil || ack.Session.Avatar == nil {
		return nil
	}
	servers := make([]protocol.ICEServer, 0, len(ack.Session.Avatar.ICEServers))
	for _, srv := range ack.Session.Avatar.ICEServers {
		servers = append(servers, protocol.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return servers
}

func avatarOutputMode(cfg protocol.SessionConfig) string {
	if cfg.AvatarOutputMode == avatarModeWebSocket {
		return avatarModeWebSocket
	}
	return avatarModeWebRTC
}

func turnDetectionType(cfg protocol.SessionConfig) string {
	if cfg.TurnDetectionType == voicelive.TurnDetectionSemanticVAD {
		return voicelive.TurnDetectionSemanticVAD
	}
	return voicelive.TurnDetectionServerVAD
}

// buildRequestSession translates the client configuration into the
// upstream configure-session command.
func buildRequestSession(cfg protocol.SessionConfig) *voicelive.RequestSession {
	req := &voicelive.RequestSession{
		Modalities:              []string{voicelive.ModalityText, voicelive.ModalityAudio},
		Instructions:            cfg.Instructions,
		Voice:                   buildVoice(cfg),
		Avatar:                  buildAvatar(cfg),
		InputAudioFormat:        voicelive.AudioFormatPCM16,
		OutputAudioFormat:       voicelive.AudioFormatPCM16,
		InputAudioTranscription: buildTranscription(cfg),
		TurnDetection:           buildTurnDetection(cfg),
	}

	if len(cfg.Tools) > 0 {
		for _, tool := range cfg.Tools {
			if raw, err := json.Marshal(tool); err == nil {
				req.Tools = append(req.Tools, raw)
			}
		}
		req.ToolChoice = voicelive.ToolChoiceAuto
	}

	// Hosted v2 agents bring their own sampling settings.
	if cfg.Mode != "agent-v2" {
		temperature := 0.9
		if cfg.Temperature != nil {
			temperature = *cfg.Temperature
		}
		req.Temperature = &temperature
	}

	if cfg.UseNS {
		req.InputAudioNoiseReduction = &voicelive.TypedOption{Type: voicelive.NoiseReductionAzureDeep}
	}
	if cfg.UseEC {
		req.InputAudioEchoCancellation = &voicelive.TypedOption{Type: voicelive.EchoCancellationServerSide}
	}
	return req
}

func buildVoice(cfg protocol.SessionConfig) *voicelive.VoiceConfig {
	temperature := 0.9
	if cfg.VoiceTemperature != nil {
		temperature = *cfg.VoiceTemperature
	}
	speed := 1.0
	if cfg.VoiceSpeed != nil {
		speed = *cfg.VoiceSpeed
	}
	rate := strconv.FormatFloat(speed, 'f', -1, 64)

	switch cfg.VoiceType {
	case "custom":
		return voicelive.AzureCustomVoice(cfg.CustomVoiceName, cfg.VoiceDeploymentID, rate)
	case "personal":
		model := cfg.PersonalVoiceMdl
		if model == "" {
			model = defaultPersonalModel
		}
		return voicelive.AzurePersonalVoice(cfg.PersonalVoiceName, model, &temperature)
	default:
		name := cfg.VoiceName
		if !strings.Contains(name, "-") {
			// OpenAI voices are bare names like "alloy".
			return voicelive.OpenAIVoice(name)
		}
		var temp *float64
		if strings.Contains(name, "Dragon") {
			temp = &temperature
		}
		return voicelive.AzureStandardVoice(name, temp, rate)
	}
}

func buildAvatar(cfg protocol.SessionConfig) *voicelive.AvatarConfig {
	if !cfg.AvatarEnabled {
		return nil
	}

	var character, style string
	switch {
	case cfg.IsCustomAvatar:
		character = cfg.CustomAvatarName
	case cfg.IsPhotoAvatar:
		name := cfg.PhotoAvatarName
		if name == "" {
			name = defaultPhotoAvatarName
		}
		character, style = splitAvatarName(name)
	default:
		name := cfg.AvatarName
		if name == "" {
			name = defaultAvatarName
		}
		character, style = splitAvatarName(name)
	}

	video := &voicelive.VideoParams{Codec: "h264"}
	if !cfg.IsPhotoAvatar {
		// 800px wide crop centered in the 1920x1080 frame.
		video.Crop = &voicelive.VideoCrop{TopLeft: [2]int{560, 0}, BottomRight: [2]int{1360, 1080}}
	}
	if cfg.AvatarBackgroundImage != "" {
		video.Background = &voicelive.Background{ImageURL: cfg.AvatarBackgroundImage}
	}

	avatar := &voicelive.AvatarConfig{
		Character:      character,
		Style:          style,
		Customized:     cfg.IsCustomAvatar,
		Video:          video,
		OutputProtocol: avatarOutputMode(cfg),
	}

	if cfg.IsPhotoAvatar {
		avatar.Type = "photo-avatar"
		avatar.Model = "vasa-1"
		if cfg.PhotoScene != nil {
			avatar.Scene = photoSceneToWire(*cfg.PhotoScene)
		}
	}
	return avatar
}

func splitAvatarName(name string) (character, style string) {
	character, style, found := strings.Cut(name, "-")
	character = strings.ToLower(character)
	if !found {
		return character, ""
	}
	return character, style
}

// photoSceneToWire converts client units (percent, degrees) to the wire
// units (unit fractions, radians).
func photoSceneToWire(scene protocol.PhotoScene) *voicelive.AvatarScene {
	return &voicelive.AvatarScene{
		Zoom:      scene.Zoom / 100,
		PositionX: scene.PositionX / 100,
		PositionY: scene.PositionY / 100,
		RotationX: scene.RotationX * math.Pi / 180,
		RotationY: scene.RotationY * math.Pi / 180,
		RotationZ: scene.RotationZ * math.Pi / 180,
		Amplitude: scene.Amplitude / 100,
	}
}

func buildTranscription(cfg protocol.SessionConfig) *voicelive.TranscriptionConfig {
	srModel := cfg.SRModel
	if srModel == "" {
		srModel = defaultSRModel
	}
	language := cfg.RecognitionLanguage
	if language == "" {
		language = "auto"
	}

	model := srModel
	if cfg.Mode == "" || cfg.Mode == "model" {
		if strings.Contains(cfg.Model, "realtime") {
			model = "whisper-1"
		}
	}
	tc := &voicelive.TranscriptionConfig{Model: model}
	if srModel != "mai-ears-1" && language != "auto" {
		tc.Language = language
	}
	return tc
}

func buildTurnDetection(cfg protocol.SessionConfig) *voicelive.TurnDetection {
	if turnDetectionType(cfg) == voicelive.TurnDetectionSemanticVAD {
		interrupt := true
		removeFiller := cfg.RemoveFillerWords
		td := &voicelive.TurnDetection{
			Type:              voicelive.TurnDetectionSemanticVAD,
			Threshold:         0.3,
			PrefixPaddingMs:   300,
			SpeechDurationMs:  80,
			SilenceDurationMs: 500,
			RemoveFillerWords: &removeFiller,
			InterruptResponse: &interrupt,
		}
		if cfg.EOUDetectionType == voicelive.EOUModelSemanticV1 {
			td.EndOfUtterance = &voicelive.EOUDetection{
				Model:          voicelive.EOUModelSemanticV1,
				ThresholdLevel: "default",
				TimeoutMs:      1000,
			}
		}
		return td
	}
	return &voicelive.TurnDetection{
		Type:              voicelive.TurnDetectionServerVAD,
		Threshold:         0.3,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}
