package synth

import (
	"context"
	"fmt"
)

type mockSynthesizer struct{}

// NewMockSynthesizer returns a provider that echoes the request as audio bytes.
// It pairs with the in-memory concatenator for local runs without credentials.
func NewMockSynthesizer() Synthesizer {
	return &mockSynthesizer{}
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnreachable, err)
	}
	return []byte(fmt.Sprintf("[%s %s x%.2f] %s\n", req.LanguageCode, req.Voice, req.SpeakingRate, req.Text)), nil
}
