package voice

import (
	"context"

	"github.com/antoniostano/lumen/internal/emotion"
)

// Transcriber converts an audio clip to text. Empty text means no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// EmotionRecognizer classifies the vocal emotion of an audio clip. The
// result is ordered highest score first.
type EmotionRecognizer interface {
	Recognize(ctx context.Context, audio []byte) ([]emotion.Score, error)
}

// Synthesizer renders reply text as audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Providers is the set of speech collaborators a turn needs. Recognizer may
// be nil, in which case turns are refused as unavailable.
type Providers struct {
	Transcriber Transcriber
	Recognizer  EmotionRecognizer
	Synthesizer Synthesizer

	// Labels used for metrics and logs.
	TranscriberName string
	RecognizerName  string
	SynthesizerName string
}
