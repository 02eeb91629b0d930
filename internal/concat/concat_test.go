package concat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// stageFiles writes one file per payload and a manifest listing them in order.
func stageFiles(t *testing.T, payloads ...string) (manifest, output string) {
	t.Helper()
	dir := t.TempDir()
	var entries []string
	for i, p := range payloads {
		path := filepath.Join(dir, "chunk_"+string(rune('a'+i))+".mp3")
		if err := os.WriteFile(path, []byte(p), 0o600); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, path)
	}
	manifest = filepath.Join(dir, "list.txt")
	if err := WriteManifest(manifest, entries); err != nil {
		t.Fatal(err)
	}
	return manifest, filepath.Join(dir, "output.mp3")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const catScript = `manifest=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) manifest="$2"; shift 2 ;;
    *) out="$1"; shift ;;
  esac
done
: > "$out"
sed -e "s/^file '//" -e "s/'\$//" "$manifest" | while IFS= read -r f; do cat "$f" >> "$out"; done
`

func TestMemoryConcatenatorOrder(t *testing.T) {
	manifest, output := stageFiles(t, "A", "B", "C")
	if err := NewMemoryConcatenator().Concatenate(context.Background(), manifest, output); err != nil {
		t.Fatalf("concatenate: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ABC" {
		t.Fatalf("expected ABC, got %q", data)
	}
}

func TestMemoryConcatenatorMissingInput(t *testing.T) {
	manifest, output := stageFiles(t, "A")
	entries, _ := ReadManifest(manifest)
	_ = os.Remove(entries[0])

	err := NewMemoryConcatenator().Concatenate(context.Background(), manifest, output)
	if !errors.Is(err, ErrConcatenationFailed) {
		t.Fatalf("expected concatenation failure, got %v", err)
	}
}

func TestExecArgs(t *testing.T) {
	c, err := NewExecConcatenator(`ffmpeg -hide_banner -loglevel "error"`, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.Join(c.(*execConcatenator).Args("/w/list.txt", "/w/out.mp3"), " ")
	want := "-hide_banner -loglevel error -y -f concat -safe 0 -i /w/list.txt -c copy /w/out.mp3"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewExecConcatenatorRejectsEmpty(t *testing.T) {
	if _, err := NewExecConcatenator("  ", time.Second); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecConcatenatorSuccess(t *testing.T) {
	script := writeScript(t, catScript)
	manifest, output := stageFiles(t, "first|", "second|", "third")

	c, err := NewExecConcatenator(script, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Concatenate(context.Background(), manifest, output); err != nil {
		t.Fatalf("concatenate: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first|second|third" {
		t.Fatalf("unexpected merged output %q", data)
	}
}

func TestExecConcatenatorNonZeroExit(t *testing.T) {
	script := writeScript(t, "echo 'list.txt: Invalid data found when processing input' >&2\nexit 1\n")
	manifest, output := stageFiles(t, "A")

	c, _ := NewExecConcatenator(script, 5*time.Second)
	err := c.Concatenate(context.Background(), manifest, output)
	if !errors.Is(err, ErrConcatenationFailed) {
		t.Fatalf("expected concatenation failure, got %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(cerr.Diagnostics, "Invalid data found") {
		t.Fatalf("expected stderr diagnostics, got %q", cerr.Diagnostics)
	}
}

func TestExecConcatenatorZeroExitWithoutOutput(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	manifest, output := stageFiles(t, "A")

	c, _ := NewExecConcatenator(script, 5*time.Second)
	if err := c.Concatenate(context.Background(), manifest, output); !errors.Is(err, ErrConcatenationFailed) {
		t.Fatalf("expected failure when output is missing, got %v", err)
	}
}

func TestExecConcatenatorLaunchFailure(t *testing.T) {
	manifest, output := stageFiles(t, "A")
	c, _ := NewExecConcatenator(filepath.Join(t.TempDir(), "no-such-ffmpeg"), time.Second)
	if err := c.Concatenate(context.Background(), manifest, output); !errors.Is(err, ErrConcatenationFailed) {
		t.Fatalf("expected concatenation failure, got %v", err)
	}
}

func TestExecConcatenatorTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	manifest, output := stageFiles(t, "A")

	c, _ := NewExecConcatenator(script, 100*time.Millisecond)
	start := time.Now()
	err := c.Concatenate(context.Background(), manifest, output)
	if !errors.Is(err, ErrConcatenationFailed) {
		t.Fatalf("expected concatenation failure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestExecConcatenatorZeroExitDiagnosticsAreBounded(t *testing.T) {
	script := writeScript(t, "head -c 20000 /dev/zero | tr '\\0' 'x' >&2\nexit 0\n")
	manifest, output := stageFiles(t, "A")

	c, _ := NewExecConcatenator(script, 5*time.Second)
	err := c.Concatenate(context.Background(), manifest, output)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if cerr.Diagnostics == "" || len(cerr.Diagnostics) > maxDiagnostics {
		t.Fatalf("expected diagnostics capped at %d bytes, got %d", maxDiagnostics, len(cerr.Diagnostics))
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := "ação: falhou ção"
	for limit := 1; limit <= len(s); limit++ {
		got := truncate(s, limit)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%d) split a rune: %q", limit, got)
		}
		if len(got) > limit || !strings.HasSuffix(s, got) {
			t.Fatalf("truncate(%d) = %q", limit, got)
		}
	}
	if got := truncate("short", 64); got != "short" {
		t.Fatalf("expected short input untouched, got %q", got)
	}
}
