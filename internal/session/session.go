package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-tts-proxy/internal/concat"
)

const artifactPermissions = 0o600

// Session is the artifact namespace of one multi-chunk request. It is not safe for
// concurrent use; chunks are staged one after another.
type Session struct {
	ID string

	ws       *Workspace
	staged   []string
	manifest string
	output   string
	closed   bool
}

// Stage persists the audio for chunk index. Chunks must be staged in order starting at 0.
func (s *Session) Stage(index int, audio []byte) (string, error) {
	if s.closed {
		return "", errors.New("session closed")
	}
	if index != len(s.staged) {
		return "", fmt.Errorf("chunk %d staged out of order, expected %d", index, len(s.staged))
	}
	path := s.ws.path(s.ID, fmt.Sprintf("chunk_%04d.mp3", index))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, artifactPermissions)
	if err != nil {
		return "", fmt.Errorf("create chunk artifact: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		return "", fmt.Errorf("write chunk artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close chunk artifact: %w", err)
	}
	s.staged = append(s.staged, path)
	return path, nil
}

// Staged returns the staged artifact paths in staging order.
func (s *Session) Staged() []string {
	return append([]string(nil), s.staged...)
}

func (s *Session) ManifestPath() string { return s.manifest }

func (s *Session) OutputPath() string { return s.output }

// WriteManifest lists the staged artifacts, in staging order, for the concatenator.
func (s *Session) WriteManifest() (string, error) {
	if err := concat.WriteManifest(s.manifest, s.staged); err != nil {
		return "", err
	}
	return s.manifest, nil
}

// ReadOutput loads the merged artifact.
func (s *Session) ReadOutput() ([]byte, error) {
	data, err := os.ReadFile(s.output)
	if err != nil {
		return nil, fmt.Errorf("read merged output: %w", err)
	}
	return data, nil
}

// Close deletes every artifact scoped to the session: the ones it knows about and any
// other file carrying its prefix. Each failure is logged; the joined failures are returned
// for accounting only. Close may be called more than once.
func (s *Session) Close() error {
	s.closed = true

	known := append(s.Staged(), s.manifest, s.output)
	tried := make(map[string]bool, len(known))
	var errs []error
	for _, path := range known {
		tried[path] = true
		if err := s.remove(path); err != nil {
			errs = append(errs, err)
		}
	}

	leftovers, err := s.ws.Artifacts(s.ID)
	if err != nil {
		s.ws.log.Warn("session sweep failed", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	for _, path := range leftovers {
		if tried[path] {
			continue
		}
		if err := s.remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) remove(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	s.ws.log.Warn("failed to remove session artifact",
		slog.String("session_id", s.ID),
		slog.String("path", path),
		slog.String("error", err.Error()))
	return fmt.Errorf("remove %s: %w", path, err)
}
