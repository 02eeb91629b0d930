package concat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
)

const (
	// Upper bound on diagnostic text kept from the tool's stderr.
	maxDiagnostics = 8 << 10

	// How long Wait keeps draining stderr after the tool was killed.
	waitDelay = 2 * time.Second
)

type execConcatenator struct {
	cmd     []string
	timeout time.Duration
}

// NewExecConcatenator builds a Concatenator around an ffmpeg-compatible command line,
// e.g. "ffmpeg -hide_banner -loglevel error". The concat-demuxer arguments are appended.
func NewExecConcatenator(command string, timeout time.Duration) (Concatenator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse concat command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("concat command empty")
	}
	return &execConcatenator{cmd: args, timeout: timeout}, nil
}

// Args returns the full argument vector used for one invocation.
func (e *execConcatenator) Args(manifestPath, outputPath string) []string {
	args := append([]string{}, e.cmd[1:]...)
	return append(args,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		outputPath,
	)
}

func (e *execConcatenator) Concatenate(ctx context.Context, manifestPath, outputPath string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.Args(manifestPath, outputPath)...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	command.WaitDelay = waitDelay

	err := command.Run()
	diagnostics := truncate(strings.TrimSpace(stderr.String()), maxDiagnostics)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failed(fmt.Errorf("concat command interrupted: %w", ctxErr), diagnostics)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return failed(fmt.Errorf("launch concat command: %w", err), diagnostics)
		}
		return failed(fmt.Errorf("concat command exited: %w", err), diagnostics)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return failed(fmt.Errorf("concat output missing: %w", err), diagnostics)
	}
	if info.Size() == 0 {
		return failed(errors.New("concat output is empty"), diagnostics)
	}
	return nil
}

// Probe checks that the configured tool can be launched at all.
func Probe(ctx context.Context, command string) error {
	args, err := shellwords.Parse(command)
	if err != nil {
		return fmt.Errorf("parse concat command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("concat command empty")
	}
	out, err := exec.CommandContext(ctx, args[0], "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("concat tool check failed: %w: %s", err, truncate(strings.TrimSpace(string(out)), 512))
	}
	return nil
}

// truncate keeps the last limit bytes of s, starting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
