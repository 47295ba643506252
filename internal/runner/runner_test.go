package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandRunner_EmptyArgv(t *testing.T) {
	_, err := NewCommandRunner(nil)
	assert.Error(t, err)
}

func TestRun_Pass(t *testing.T) {
	r, err := NewCommandRunner([]string{"sh", "-c", "echo ok"})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "ok")
}

func TestRun_NonZeroExitIsFailureNotError(t *testing.T) {
	r, err := NewCommandRunner([]string{"sh", "-c", "echo boom; exit 1"})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err, "a failing suite is a result, not an error")
	assert.False(t, res.Passed)
	assert.Contains(t, res.Output, "boom")
}

func TestRun_MissingBinaryIsError(t *testing.T) {
	r, err := NewCommandRunner([]string{"no-such-binary-anywhere"})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), t.TempDir())
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_CancelledContextIsError(t *testing.T) {
	r, err := NewCommandRunner([]string{"sh", "-c", "sleep 10"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, t.TempDir())
	assert.Error(t, err, "a killed run is inconclusive, never a test failure")
	assert.Nil(t, res)
}

func TestRun_UsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	r, err := NewCommandRunner([]string{"pwd"})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, dir)
}
