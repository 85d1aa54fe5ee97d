package voice

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/reysq/internal/audio"
	"github.com/ent0n29/reysq/internal/transport"
)

// MockTranscriber is used when no transcription service is configured. It
// treats UTF-8 payloads as the spoken text, which keeps the console and
// tests deterministic.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (MockTranscriber) Transcribe(_ context.Context, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrTranscription)
	}
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data)), nil
	}
	return "simulated voice note", nil
}

// MockSynthesizer returns a short silent WAV clip.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (MockSynthesizer) Synthesize(_ context.Context, text string) (transport.Audio, error) {
	if SpeakableText(text) == "" {
		return transport.Audio{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesis)
	}
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 3200), 16000)
	if err != nil {
		return transport.Audio{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return transport.Audio{Data: wav, MIMEType: "audio/wav"}, nil
}
