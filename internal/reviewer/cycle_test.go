package reviewer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/store"
)

// noopGit satisfies git.Client against an already-populated local tree.
type noopGit struct {
	pullErr error
}

func (g *noopGit) Clone(ctx context.Context, remote, path, branch string) error { return nil }
func (g *noopGit) Pull(ctx context.Context, path string) error                  { return g.pullErr }
func (g *noopGit) CurrentBranch(ctx context.Context, path string) (string, error) {
	return "main", nil
}
func (g *noopGit) Checkout(ctx context.Context, path, branch string, create bool) error { return nil }
func (g *noopGit) Add(ctx context.Context, path string, files ...string) error          { return nil }
func (g *noopGit) HasChanges(ctx context.Context, path string) (bool, error)            { return true, nil }
func (g *noopGit) Commit(ctx context.Context, path, message string) error               { return nil }
func (g *noopGit) Push(ctx context.Context, path, branch string) error                  { return nil }
func (g *noopGit) LastCommitHash(ctx context.Context, path string) (string, error) {
	return "abc1234", nil
}

func newCycleFixture(t *testing.T, gc *noopGit, files ...string) (store.Store, *mirror.Manager, *events.Bus) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	root := filepath.Join(t.TempDir(), "mirror")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	for _, f := range files {
		abs := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte("package thing\n"), 0644))
	}

	m := mirror.NewManager(root, "git@example.com:acme/repo.git", "main", gc)
	bus := events.NewBus()
	return s, m, bus
}

func testDef() *Definition {
	return &Definition{
		Name:     "imperium",
		Cadence:  30 * time.Minute,
		MaxFiles: 5,
		Include:  []string{"*.go"},
		Focus:    "performance",
	}
}

func TestRunCycle_CreatesPendingProposals(t *testing.T) {
	gc := &noopGit{}
	s, m, bus := newCycleFixture(t, gc, "a.go", "b.go")

	suggest := SuggestFunc(func(ctx context.Context, def *Definition, path, content string) (string, error) {
		return content + "// improved\n", nil
	})
	engine := NewEngine(s, m, suggest, bus, nil)

	ch, cancel := bus.Subscribe()
	defer cancel()

	res, err := engine.RunCycle(context.Background(), testDef())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Skipped)

	proposals, err := s.ListProposals(context.Background(), store.ProposalFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	for _, p := range proposals {
		assert.Equal(t, "imperium", p.Reviewer)
		assert.Equal(t, "package thing\n", p.CodeBefore)
		assert.Equal(t, "package thing\n// improved\n", p.CodeAfter)
	}

	ev := <-ch
	assert.Equal(t, events.TypeProposalCreated, ev.Type)
}

func TestRunCycle_RespectsMaxFiles(t *testing.T) {
	gc := &noopGit{}
	s, m, bus := newCycleFixture(t, gc, "a.go", "b.go", "c.go", "d.go")

	suggest := SuggestFunc(func(ctx context.Context, def *Definition, path, content string) (string, error) {
		return content + "// x\n", nil
	})
	engine := NewEngine(s, m, suggest, bus, nil)

	def := testDef()
	def.MaxFiles = 2
	res, err := engine.RunCycle(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Created)
}

func TestRunCycle_SyncFailureAbortsCycle(t *testing.T) {
	gc := &noopGit{pullErr: fmt.Errorf("remote unreachable")}
	s, m, bus := newCycleFixture(t, gc, "a.go")

	called := false
	suggest := SuggestFunc(func(ctx context.Context, def *Definition, path, content string) (string, error) {
		called = true
		return content, nil
	})
	engine := NewEngine(s, m, suggest, bus, nil)

	_, err := engine.RunCycle(context.Background(), testDef())
	require.Error(t, err)
	assert.False(t, called, "no suggestions when the mirror cannot sync")

	proposals, err := s.ListProposals(context.Background(), store.ProposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestRunCycle_SuggestionFailureSkipsFileOnly(t *testing.T) {
	gc := &noopGit{}
	s, m, bus := newCycleFixture(t, gc, "a.go", "b.go", "c.go")

	suggest := SuggestFunc(func(ctx context.Context, def *Definition, path, content string) (string, error) {
		if filepath.Base(path) == "b.go" {
			return "", fmt.Errorf("model overloaded")
		}
		return content + "// ok\n", nil
	})
	engine := NewEngine(s, m, suggest, bus, nil)

	res, err := engine.RunCycle(context.Background(), testDef())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Selected)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestRunCycle_UnchangedContentSkipped(t *testing.T) {
	gc := &noopGit{}
	s, m, bus := newCycleFixture(t, gc, "a.go")

	suggest := SuggestFunc(func(ctx context.Context, def *Definition, path, content string) (string, error) {
		return content, nil
	})
	engine := NewEngine(s, m, suggest, bus, nil)

	res, err := engine.RunCycle(context.Background(), testDef())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)

	proposals, err := s.ListProposals(context.Background(), store.ProposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, proposals, "a no-op suggestion must not become a proposal")
}
