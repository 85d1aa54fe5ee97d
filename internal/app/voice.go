package app

import (
	"strings"

	"github.com/ent0n29/reysq/internal/config"
	"github.com/ent0n29/reysq/internal/voice"
)

type voiceSetup struct {
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	sttDetail   string
	ttsDetail   string
}

// resolveVoiceProviders picks Whisper when an OpenAI key is present and the
// mock transcriber otherwise. Spoken replies need both VOICE_REPLIES and an
// ElevenLabs key; without them replies stay text only.
func resolveVoiceProviders(cfg config.Config) voiceSetup {
	var setup voiceSetup

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" && cfg.BrainMode != "mock" {
		setup.transcriber = voice.NewWhisperTranscriber(voice.WhisperConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAITranscribeModel,
			Timeout: cfg.CollaboratorTimeout,
		})
		setup.sttDetail = "whisper " + cfg.OpenAITranscribeModel
	} else {
		setup.transcriber = voice.NewMockTranscriber()
		setup.sttDetail = "mock"
	}

	switch {
	case !cfg.VoiceReplies:
		setup.ttsDetail = "disabled"
	case strings.TrimSpace(cfg.ElevenLabsAPIKey) == "":
		setup.ttsDetail = "disabled (no ELEVENLABS_API_KEY)"
	default:
		setup.synthesizer = voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			VoiceID:      cfg.ElevenLabsVoiceID,
			ModelID:      cfg.ElevenLabsModelID,
			OutputFormat: cfg.ElevenLabsOutputFormat,
			Timeout:      cfg.CollaboratorTimeout,
		})
		setup.ttsDetail = "elevenlabs " + cfg.ElevenLabsModelID + " " + cfg.ElevenLabsOutputFormat
	}
	return setup
}
