// Package session owns the working area where a multi-chunk request stages its audio.
//
// Every artifact a Session creates is named "<session id>_<suffix>" directly under the
// workspace directory, so concurrent sessions never share a name and a session's files
// can always be found again by prefix.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dirPermissions = 0o755

// Workspace is the shared directory holding in-flight sessions' artifacts.
type Workspace struct {
	dir   string
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

func NewWorkspace(dir string, log *slog.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace dir: %w", err)
	}
	return &Workspace{
		dir:   abs,
		log:   log.With(slog.String("component", "workspace")),
		clock: time.Now,
		newID: uuid.NewString,
	}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// Ensure creates the workspace directory if it does not exist yet.
func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.dir, dirPermissions); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	return nil
}

// Begin creates the directory if needed and opens a session with a fresh id.
func (w *Workspace) Begin() (*Session, error) {
	if err := w.Ensure(); err != nil {
		return nil, err
	}
	id := w.newID()
	return &Session{
		ID:       id,
		ws:       w,
		manifest: w.path(id, "list.txt"),
		output:   w.path(id, "output.mp3"),
	}, nil
}

func (w *Workspace) path(sessionID, suffix string) string {
	return filepath.Join(w.dir, sessionID+"_"+suffix)
}

// Artifacts lists every file currently scoped to sessionID.
func (w *Workspace) Artifacts(sessionID string) ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	prefix := sessionID + "_"
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, entry.Name()))
	}
	return paths, nil
}

// SweepStale removes session artifacts last modified before olderThan ago.
// Files that do not carry a session id prefix are left alone.
func (w *Workspace) SweepStale(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list workspace: %w", err)
	}
	cutoff := w.clock().Add(-olderThan)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func isArtifactName(name string) bool {
	id, _, ok := strings.Cut(name, "_")
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
