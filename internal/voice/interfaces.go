package voice

import (
	"context"
	"errors"

	"github.com/ent0n29/reysq/internal/transport"
)

var (
	// ErrTranscription wraps speech-to-text failures.
	ErrTranscription = errors.New("transcription failed")
	// ErrSynthesis wraps text-to-speech failures.
	ErrSynthesis = errors.New("speech synthesis failed")
)

// Transcriber turns a recorded voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Synthesizer renders reply text as a voice clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (transport.Audio, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, audio []byte, mimeType string) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return f(ctx, audio, mimeType)
}
