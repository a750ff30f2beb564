package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRunLock_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db.lock")

	release, err := acquireRunLock(path)
	require.NoError(t, err)
	require.NotNil(t, release)

	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRunLock_SecondAcquisitionFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db.lock")

	release1, err := acquireRunLock(path)
	require.NoError(t, err)

	defer release1()

	release2, err := acquireRunLock(path)
	require.ErrorIs(t, err, errRunLocked)
	assert.Nil(t, release2)
	assert.Contains(t, err.Error(), "PID "+strconv.Itoa(os.Getpid()))
}

func TestAcquireRunLock_ReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db.lock")

	release, err := acquireRunLock(path)
	require.NoError(t, err)

	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	release, err = acquireRunLock(path)
	require.NoError(t, err)
	release()
}

func TestAcquireRunLock_EmptyPath(t *testing.T) {
	t.Parallel()

	release, err := acquireRunLock("")
	require.Error(t, err)
	assert.Nil(t, release)
	assert.Contains(t, err.Error(), "empty")
}

func TestAcquireRunLock_CreatesParentDirectories(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state", "journal.db.lock")

	release, err := acquireRunLock(path)
	require.NoError(t, err)

	defer release()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(lockFilePermissions), info.Mode().Perm())
}

func TestReadLockPID_InvalidContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	_, err := readLockPID(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestReadLockPID_Missing(t *testing.T) {
	t.Parallel()

	_, err := readLockPID(filepath.Join(t.TempDir(), "missing.lock"))
	assert.Error(t, err)
}
