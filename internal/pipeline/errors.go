package pipeline

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-tts-proxy/internal/concat"
	"github.com/loqalabs/loqa-tts-proxy/internal/synth"
)

// ErrInvalidRequest marks input rejected before any provider call or file I/O.
var ErrInvalidRequest = errors.New("invalid request")

// Category is the caller-facing failure class of a pipeline error.
type Category string

const (
	CategoryOK                  Category = "ok"
	CategoryInvalidRequest      Category = "invalid_request"
	CategoryProviderRejected    Category = "provider_rejected"
	CategoryProviderError       Category = "provider_error"
	CategoryProviderUnreachable Category = "provider_unreachable"
	CategoryConcatFailed        Category = "concatenation_failed"
	CategoryInternal            Category = "internal"
)

// Classify maps an error returned by the Coordinator onto its Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryOK
	}
	if errors.Is(err, ErrInvalidRequest) {
		return CategoryInvalidRequest
	}
	// Checked before deadlines: a concat timeout is a concatenation failure.
	if errors.Is(err, concat.ErrConcatenationFailed) {
		return CategoryConcatFailed
	}
	var perr *synth.ProviderError
	if errors.As(err, &perr) {
		if perr.ClientFault() {
			return CategoryProviderRejected
		}
		return CategoryProviderError
	}
	if errors.Is(err, synth.ErrProviderUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryProviderUnreachable
	}
	if errors.Is(err, synth.ErrMalformedResponse) {
		return CategoryProviderError
	}
	return CategoryInternal
}
