package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shuttle-av/shuttle/internal/errs"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttle.lock")

	l, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	// Content was written and the lock can be re-acquired after release.
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, body)

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquire_ContendedByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shuttle.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release() //nolint:errcheck

	_, err = Acquire(path)
	require.Error(t, err)
	require.Equal(t, errs.KindLockContended, errs.KindOf(err))
}

func TestRelease_NilSafe(t *testing.T) {
	var l *InstanceLock
	require.NoError(t, l.Release())
}
