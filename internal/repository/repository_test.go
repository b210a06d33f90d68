package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebridge/timebridge/internal/common"
)

// testConfig returns a config with retry windows short enough for
// tests that exercise the timeout paths.
func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		RemoteDir:     t.TempDir(),
		CacheDir:      filepath.Join(t.TempDir(), "cache"),
		RemoteTimeout: 100 * time.Millisecond,
		RemoteDelay:   5 * time.Millisecond,
		LockTimeout:   50 * time.Millisecond,
		LockDelay:     5 * time.Millisecond,
		SaveTimeout:   100 * time.Millisecond,
		SaveDelay:     5 * time.Millisecond,
	}
}

func writeRecord(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestAcquireCopiesRecordAndLocks(t *testing.T) {
	cfg := testConfig(t)
	remote := writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "record-content")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	local, err := repo.Acquire(context.Background(), "042")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "042-doe_jane-2025.db"), local)

	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "record-content", string(content))

	_, err = os.Stat(remote + LockExtension)
	assert.NoError(t, err, "lock file must exist while acquired")
}

func TestAcquireMutualExclusion(t *testing.T) {
	cfg := testConfig(t)
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrLockTimeout)
}

func TestAcquireAfterRelease(t *testing.T) {
	cfg := testConfig(t)
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	local, err := repo.Acquire(context.Background(), "042")
	require.NoError(t, err)
	require.NoError(t, repo.Release(context.Background(), local))

	_, err = os.Stat(local)
	assert.True(t, os.IsNotExist(err), "local copy must be deleted on release")

	_, err = repo.Acquire(context.Background(), "042")
	assert.NoError(t, err)
}

func TestAcquireRecordNotFound(t *testing.T) {
	cfg := testConfig(t)
	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	assert.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestAcquireAmbiguousRecord(t *testing.T) {
	cfg := testConfig(t)
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2024.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	assert.ErrorIs(t, err, common.ErrAmbiguousRecord)
}

func TestAcquireLeavesLockOnCopyFailure(t *testing.T) {
	cfg := testConfig(t)
	remote := writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	// Make cache directory creation fail by occupying the path with a
	// plain file. The failure happens after the lock step.
	require.NoError(t, os.WriteFile(cfg.CacheDir, []byte("in the way"), 0o640))

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	require.Error(t, err)

	_, statErr := os.Stat(remote + LockExtension)
	assert.NoError(t, statErr, "lock must stay behind after a mid-acquisition failure")
}

func TestSaveReplacesRemoteAtomically(t *testing.T) {
	cfg := testConfig(t)
	remote := writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "old")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	local, err := repo.Acquire(context.Background(), "042")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(local, []byte("new"), 0o640))
	require.NoError(t, repo.Save(context.Background(), local))

	content, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	_, err = os.Stat(filepath.Join(cfg.RemoteDir, remoteStagingDir, filepath.Base(local)))
	assert.True(t, os.IsNotExist(err), "staging artifact must be cleaned up")
}

func TestReleaseToleratesMissingLock(t *testing.T) {
	cfg := testConfig(t)
	remote := writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	local, err := repo.Acquire(context.Background(), "042")
	require.NoError(t, err)

	// Someone removed the lock manually; release must still succeed.
	require.NoError(t, os.Remove(remote+LockExtension))
	assert.NoError(t, repo.Release(context.Background(), local))
}

func TestAcquireReadOnly(t *testing.T) {
	cfg := testConfig(t)
	remote := writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	local, err := repo.AcquireReadOnly(context.Background(), "042")
	require.NoError(t, err)
	assert.Equal(t, ReadOnlyPrefix+"042-doe_jane-2025.db", filepath.Base(local))

	_, err = os.Stat(remote + LockExtension)
	assert.True(t, os.IsNotExist(err), "read-only acquisition must not lock")

	// A second read-only copy of the same record is a double-open bug.
	_, err = repo.AcquireReadOnly(context.Background(), "042")
	assert.ErrorIs(t, err, common.ErrAlreadyOpen)

	require.NoError(t, repo.ReleaseReadOnly(context.Background(), local))
	_, err = repo.AcquireReadOnly(context.Background(), "042")
	assert.NoError(t, err)
}

func TestReadOnlyDoesNotBlockExclusive(t *testing.T) {
	cfg := testConfig(t)
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = repo.AcquireReadOnly(context.Background(), "042")
	require.NoError(t, err)

	_, err = repo.Acquire(context.Background(), "042")
	assert.NoError(t, err)
}

func TestListIDs(t *testing.T) {
	cfg := testConfig(t)
	writeRecord(t, cfg.RemoteDir, "042-doe_jane-2025.db", "x")
	writeRecord(t, cfg.RemoteDir, "043_dupont_marie-2025.db", "x")
	writeRecord(t, cfg.RemoteDir, "notes.txt", "x")
	writeRecord(t, cfg.RemoteDir, "noprefix.db", "x")

	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ids, err := repo.ListIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"042", "043"}, ids)
}

func TestNewUnreachableRemote(t *testing.T) {
	cfg := testConfig(t)
	cfg.RemoteDir = filepath.Join(cfg.RemoteDir, "gone", "deeper")

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRepositoryUnavailable)
}

func TestCheckAvailable(t *testing.T) {
	cfg := testConfig(t)
	repo, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, repo.CheckAvailable(context.Background()))

	require.NoError(t, os.RemoveAll(cfg.RemoteDir))
	assert.False(t, repo.CheckAvailable(context.Background()))
}
