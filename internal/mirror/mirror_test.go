package mirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit records Clone/Pull invocations without touching a real remote.
type fakeGit struct {
	mu       sync.Mutex
	clones   int
	pulls    int
	cloneErr error
	pullErr  error
}

func (f *fakeGit) Clone(ctx context.Context, remote, path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clones++
	if f.cloneErr != nil {
		return f.cloneErr
	}
	return os.MkdirAll(filepath.Join(path, ".git"), 0755)
}

func (f *fakeGit) Pull(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return f.pullErr
}

func (f *fakeGit) CurrentBranch(ctx context.Context, path string) (string, error) { return "main", nil }
func (f *fakeGit) Checkout(ctx context.Context, path, branch string, create bool) error {
	return nil
}
func (f *fakeGit) Add(ctx context.Context, path string, files ...string) error { return nil }
func (f *fakeGit) HasChanges(ctx context.Context, path string) (bool, error)   { return false, nil }
func (f *fakeGit) Commit(ctx context.Context, path, message string) error      { return nil }
func (f *fakeGit) Push(ctx context.Context, path, branch string) error         { return nil }
func (f *fakeGit) LastCommitHash(ctx context.Context, path string) (string, error) {
	return "abc1234", nil
}

func newTestManager(t *testing.T) (*Manager, *fakeGit) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "mirror")
	fg := &fakeGit{}
	return NewManager(dir, "git@example.com:acme/repo.git", "main", fg), fg
}

func TestEnsureUpToDate_ClonesWhenAbsent(t *testing.T) {
	m, fg := newTestManager(t)

	assert.Empty(t, m.Head())
	require.NoError(t, m.EnsureUpToDate(context.Background()))
	assert.Equal(t, 1, fg.clones)
	assert.Equal(t, 0, fg.pulls)
	assert.False(t, m.LastSync().IsZero())
	assert.Equal(t, "abc1234", m.Head())
}

func TestEnsureUpToDate_PullsWhenPresent(t *testing.T) {
	m, fg := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Path(), ".git"), 0755))

	require.NoError(t, m.EnsureUpToDate(context.Background()))
	assert.Equal(t, 0, fg.clones)
	assert.Equal(t, 1, fg.pulls)
}

func TestEnsureUpToDate_PropagatesFailure(t *testing.T) {
	m, fg := newTestManager(t)
	fg.cloneErr = os.ErrPermission

	err := m.EnsureUpToDate(context.Background())
	require.Error(t, err)
	assert.True(t, m.LastSync().IsZero(), "failed sync must not update LastSync")
}

func TestEnsureUpToDate_Concurrent(t *testing.T) {
	m, fg := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.EnsureUpToDate(context.Background())
		}()
	}
	wg.Wait()

	// One clone, the rest pulls; never interleaved.
	assert.Equal(t, 1, fg.clones)
	assert.Equal(t, 7, fg.pulls)
}

func TestResolve_RejectsEscapes(t *testing.T) {
	m, _ := newTestManager(t)

	bad := []string{
		"",
		"..",
		"../secrets.txt",
		"a/../../etc/passwd",
		"/etc/passwd",
		"a/b/../../../c",
	}
	for _, rel := range bad {
		_, err := m.Resolve(rel)
		assert.ErrorIs(t, err, ErrPathEscape, "path %q must be rejected", rel)
	}
}

func TestResolve_AcceptsLocalPaths(t *testing.T) {
	m, _ := newTestManager(t)

	good := []string{
		"main.go",
		"pkg/util/util.go",
		"a/b/../c.go", // cleans to a/c.go, still inside
	}
	for _, rel := range good {
		abs, err := m.Resolve(rel)
		require.NoError(t, err, "path %q must be accepted", rel)
		assert.True(t, filepath.IsAbs(abs))
	}
}

func TestWriteFile_ReadFile_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Path(), 0755))

	require.NoError(t, m.WriteFile("pkg/deep/file.go", []byte("package deep\n")))

	content, err := m.ReadFile("pkg/deep/file.go")
	require.NoError(t, err)
	assert.Equal(t, "package deep\n", string(content))
}

func TestWriteFile_RejectsEscape(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Path(), 0755))

	err := m.WriteFile("../outside.go", []byte("nope"))
	assert.ErrorIs(t, err, ErrPathEscape)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(m.Path()), "outside.go"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFile_LeavesNoTempFiles(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Path(), 0755))

	require.NoError(t, m.WriteFile("file.go", []byte("one")))
	require.NoError(t, m.WriteFile("file.go", []byte("two")))

	entries, err := os.ReadDir(m.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.go", entries[0].Name())

	content, err := m.ReadFile("file.go")
	require.NoError(t, err)
	assert.Equal(t, "two", string(content))
}

func TestWriteFile_ConcurrentWritersLeaveOneCompleteFile(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Path(), 0755))

	// Each writer's payload is large and distinct so a torn or interleaved
	// write could not equal any single payload.
	const writers = 8
	payloads := make([]string, writers)
	for i := range payloads {
		payloads[i] = strings.Repeat(string(rune('a'+i)), 64*1024)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.WriteFile("shared.go", []byte(payloads[i])))
		}()
	}
	wg.Wait()

	content, err := m.ReadFile("shared.go")
	require.NoError(t, err)
	assert.Contains(t, payloads, string(content), "surviving file must be exactly one writer's payload")

	entries, err := os.ReadDir(m.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}
