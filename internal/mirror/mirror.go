// Package mirror manages the single local working copy of the remote
// source tree. All synchronization and file writes funnel through one
// Manager so concurrent reviewer cycles and reconcile passes never run
// unsynchronized git operations against the same checkout.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sidellis/mend/internal/git"
)

// ErrPathEscape is wrapped into errors returned by Resolve when a
// proposal path would land outside the mirror root.
var ErrPathEscape = fmt.Errorf("path escapes mirror root")

// Manager owns the mirror working copy.
type Manager struct {
	mu       sync.Mutex
	path     string
	remote   string
	branch   string
	git      git.Client
	lastSync time.Time
	head     string
}

// NewManager creates a Manager for the given local path and remote ref.
func NewManager(path, remote, branch string, gc git.Client) *Manager {
	return &Manager{path: path, remote: remote, branch: branch, git: gc}
}

// Path returns the mirror root.
func (m *Manager) Path() string { return m.path }

// LastSync returns when the mirror last synchronized successfully.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Head returns the mirror's commit hash as of the last successful sync,
// or "" before the first sync.
func (m *Manager) Head() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// EnsureUpToDate clones the remote if the local path is absent, otherwise
// pulls. Serialized: concurrent callers block until the in-flight sync
// finishes. A failure aborts only the calling cycle; the next scheduled
// invocation retries.
func (m *Manager) EnsureUpToDate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(filepath.Join(m.path, ".git")); err != nil {
		if err := m.git.Clone(ctx, m.remote, m.path, m.branch); err != nil {
			return fmt.Errorf("sync mirror (clone): %w", err)
		}
	} else {
		if err := m.git.Pull(ctx, m.path); err != nil {
			return fmt.Errorf("sync mirror (pull): %w", err)
		}
	}
	m.lastSync = time.Now().UTC()
	if head, err := m.git.LastCommitHash(ctx, m.path); err == nil {
		m.head = head
	}
	return nil
}

// Resolve canonicalizes a proposal-relative path against the mirror root.
// It is the single choke point for the path-traversal guard: absolute
// paths, empty paths, and anything that climbs out of the root are
// rejected with ErrPathEscape.
func (m *Manager) Resolve(rel string) (string, error) {
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	abs := filepath.Join(m.path, filepath.Clean(rel))
	root := filepath.Clean(m.path) + string(filepath.Separator)
	if !strings.HasPrefix(abs+string(filepath.Separator), root) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return abs, nil
}

// ReadFile reads a file inside the mirror through the path guard.
func (m *Manager) ReadFile(rel string) ([]byte, error) {
	abs, err := m.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile writes content to a guarded path atomically (temp file +
// rename), so overlapping writers leave one complete file, never an
// interleaved or partial one.
func (m *Manager) WriteFile(rel string, content []byte) error {
	abs, err := m.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".mend-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
