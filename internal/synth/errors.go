package synth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderUnreachable is returned when no response was received from the provider.
	ErrProviderUnreachable = errors.New("speech provider unreachable")

	// ErrMalformedResponse is returned for a 2xx response without usable audio.
	ErrMalformedResponse = errors.New("speech provider returned no audio content")
)

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("speech provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("speech provider returned status %d: %s", e.StatusCode, e.Message)
}

// ClientFault reports whether the provider blamed the request itself.
func (e *ProviderError) ClientFault() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}
