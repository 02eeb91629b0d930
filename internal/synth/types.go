package synth

import "context"

// Request carries one text fragment and the voice parameters to render it with.
type Request struct {
	Text         string
	Voice        string
	LanguageCode string
	SpeakingRate float64
}

// Synthesizer turns a single text fragment into encoded audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
