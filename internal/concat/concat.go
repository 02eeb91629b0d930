// Package concat stitches staged audio artifacts into one file without re-encoding.
package concat

import (
	"context"
	"errors"
	"fmt"
)

// ErrConcatenationFailed is the category of every Concatenator failure.
var ErrConcatenationFailed = errors.New("audio concatenation failed")

// Concatenator merges the artifacts listed in a manifest, in manifest order,
// into a single file at outputPath. It returns only after the work is done.
type Concatenator interface {
	Concatenate(ctx context.Context, manifestPath, outputPath string) error
}

// Error carries the tool's diagnostic output alongside the underlying cause.
// Diagnostics are meant for logs, not for callers.
type Error struct {
	Diagnostics string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return ErrConcatenationFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConcatenationFailed, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcatenationFailed}
	}
	return []error{ErrConcatenationFailed, e.Err}
}

func failed(err error, diagnostics string) error {
	return &Error{Err: err, Diagnostics: diagnostics}
}
