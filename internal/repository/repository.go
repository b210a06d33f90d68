// Package repository manages the shared record-file repository: a
// directory, typically on a network mount, holding one record file per
// employee per year. It provides mutually exclusive acquisition via
// lock files, local cache copies for editing, atomic save-back and
// release.
//
// The remote medium is assumed slow and intermittently available (a
// NAS can sleep, an SMB mount can drop); every remote touch retries
// for a bounded window before surfacing a timeout-flavored failure.
//
// If an error happens while a record is acquired, it is normal and
// intended not to release it: the record stays locked until someone
// manually removes the lock file, after the underlying problem has
// been inspected and solved.
package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/timebridge/timebridge/internal/common"
)

const (
	// RecordPattern matches record files in the remote repository.
	RecordPattern = "*.db"
	// LockExtension is appended to a record file name to form its lock
	// file sibling.
	LockExtension = ".lock"
	// ReadOnlyPrefix marks local cache copies acquired without a lock.
	ReadOnlyPrefix = "readonly_"

	// remoteStagingDir is the well-known remote subdirectory used for
	// the copy step of an atomic save.
	remoteStagingDir = ".remote_cache"
	// wakeupFileName is the probe file written to wake a sleeping
	// remote drive.
	wakeupFileName = "remote_wakeup.txt"
)

// idFromFileName extracts the employee id prefix from a record file
// name, e.g. "042-dupont_marie-2025.db" yields "042".
var idFromFileName = regexp.MustCompile(`^(\d{3})[-_,:;]`)

// Config holds the repository paths and retry windows. Zero durations
// fall back to defaults tuned for a NAS that needs a few seconds to
// wake from sleep.
type Config struct {
	// RemoteDir is the shared record repository directory.
	RemoteDir string
	// CacheDir is the local working directory for acquired copies.
	CacheDir string

	// RemoteTimeout/RemoteDelay bound the wake-up retry loop for the
	// remote directory itself.
	RemoteTimeout time.Duration
	RemoteDelay   time.Duration
	// LockTimeout/LockDelay bound lock file creation and removal.
	LockTimeout time.Duration
	LockDelay   time.Duration
	// SaveTimeout/SaveDelay bound file copies to and from the remote.
	SaveTimeout time.Duration
	SaveDelay   time.Duration
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = ".local_cache"
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 20 * time.Second
	}
	if c.RemoteDelay <= 0 {
		c.RemoteDelay = time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.LockDelay <= 0 {
		c.LockDelay = 500 * time.Millisecond
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 3 * time.Second
	}
	if c.SaveDelay <= 0 {
		c.SaveDelay = 500 * time.Millisecond
	}
}

// Repository provides concurrent access to the remote record store.
// All methods are safe for concurrent use; remote file operations for
// different employees may overlap.
type Repository struct {
	cfg Config

	// mu serializes remote-path resolution so concurrent callers don't
	// hammer a sleeping drive with parallel wake-up probes.
	mu sync.Mutex
}

// New creates a repository accessor and verifies the remote directory
// is reachable, waking it up if needed.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.RemoteDir == "" {
		return nil, fmt.Errorf("repository: remote directory not configured")
	}
	cfg.applyDefaults()

	r := &Repository{cfg: cfg}
	if err := r.ensureRemote(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// RemoteDir returns the configured remote repository directory.
func (r *Repository) RemoteDir() string { return r.cfg.RemoteDir }

// CheckAvailable reports whether the remote repository is currently
// reachable, retrying with wake-up probes within the remote timeout.
func (r *Repository) CheckAvailable(ctx context.Context) bool {
	return r.ensureRemote(ctx) == nil
}

// Acquire takes exclusive ownership of the employee's record and
// copies it into the local cache for editing. It fails with
// ErrRecordNotFound when no file name starts with the employee id,
// ErrAmbiguousRecord when several do, and ErrLockTimeout when the lock
// file cannot be created within the lock window.
//
// Once the lock has been created, a failure in any later step leaves
// the lock in place on purpose: an unexplained mid-operation failure
// on a network share may indicate corruption, and auto-unlocking would
// let another process work on a suspect file.
func (r *Repository) Acquire(ctx context.Context, employeeID string) (string, error) {
	return r.acquire(ctx, employeeID, false)
}

// AcquireReadOnly copies the employee's record into the local cache
// without creating the remote lock. The copy gets a distinguishing
// prefix, and a second read-only acquisition of the same record in the
// same cache fails with ErrAlreadyOpen to catch double-open bugs that
// the lock would normally prevent.
func (r *Repository) AcquireReadOnly(ctx context.Context, employeeID string) (string, error) {
	return r.acquire(ctx, employeeID, true)
}

func (r *Repository) acquire(ctx context.Context, employeeID string, readonly bool) (string, error) {
	start := time.Now()

	if err := r.ensureRemote(ctx); err != nil {
		return "", err
	}

	remoteFile, err := r.findRecord(employeeID)
	if err != nil {
		return "", err
	}

	if !readonly {
		if err := r.acquireLock(ctx, remoteFile+LockExtension); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(r.cfg.CacheDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create local cache: %w", err)
	}

	var localFile string
	if readonly {
		// No remote lock protects a read-only copy from being opened
		// twice by the same process, so the cache itself is the guard.
		localFile = filepath.Join(r.cfg.CacheDir, ReadOnlyPrefix+filepath.Base(remoteFile))
		if _, statErr := os.Stat(localFile); statErr == nil {
			return "", fmt.Errorf("%w: %q exists in local cache", common.ErrAlreadyOpen, localFile)
		}
	} else {
		// A leftover copy from a previously failed operation may exist
		// here. Holding the lock means a user manually removed the
		// remote lock file, so overwriting the stale copy is legal.
		localFile = filepath.Join(r.cfg.CacheDir, filepath.Base(remoteFile))
	}

	err = common.RetryUntil(ctx, r.cfg.SaveTimeout, r.cfg.SaveDelay, func() error {
		return copyFile(remoteFile, localFile)
	})
	if err != nil {
		// The lock stays behind; see the method comment.
		return "", fmt.Errorf("%w: unable to copy %q to local cache: %v",
			common.ErrSaveTimeout, remoteFile, err)
	}

	slog.Debug("Acquired record in local cache",
		"remote", remoteFile,
		"local", localFile,
		"readonly", readonly,
		"elapsed", time.Since(start))
	return localFile, nil
}

// Save pushes a locally cached record back to the remote repository.
// The file is first copied into the remote staging subdirectory and
// then atomically renamed over the previous record, so a failure at
// any point leaves the previous remote file intact. The whole
// copy+rename sequence retries within the save window; the staging
// artifact is deleted best-effort regardless of outcome.
func (r *Repository) Save(ctx context.Context, localFile string) error {
	start := time.Now()

	if err := r.ensureRemote(ctx); err != nil {
		return err
	}

	stagingDir := filepath.Join(r.cfg.RemoteDir, remoteStagingDir)
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return fmt.Errorf("failed to create remote staging directory: %w", err)
	}

	name := filepath.Base(localFile)
	stagingFile := filepath.Join(stagingDir, name)
	remoteFile := filepath.Join(r.cfg.RemoteDir, name)

	err := common.RetryUntil(ctx, r.cfg.SaveTimeout, r.cfg.SaveDelay, func() error {
		defer func() {
			// Best-effort staging cleanup on both paths.
			if rmErr := os.Remove(stagingFile); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("Failed to clean up staging artifact", "path", stagingFile, "error", rmErr)
			}
		}()
		if copyErr := copyFile(localFile, stagingFile); copyErr != nil {
			return copyErr
		}
		return os.Rename(stagingFile, remoteFile)
	})
	if err != nil {
		return fmt.Errorf("%w: unable to save %q: %v", common.ErrSaveTimeout, remoteFile, err)
	}

	slog.Debug("Saved record", "remote", remoteFile, "elapsed", time.Since(start))
	return nil
}

// Release deletes the local cache copy and removes the remote lock
// file, making the record available to other processes again. A lock
// file that is already gone counts as released.
func (r *Repository) Release(ctx context.Context, localFile string) error {
	if err := r.ensureRemote(ctx); err != nil {
		return err
	}

	remoteFile := filepath.Join(r.cfg.RemoteDir, filepath.Base(localFile))
	if err := r.releaseLock(ctx, remoteFile+LockExtension); err != nil {
		return err
	}

	if err := os.Remove(localFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete local copy %q: %w", localFile, err)
	}

	slog.Debug("Released record", "remote", remoteFile)
	return nil
}

// ReleaseReadOnly deletes a read-only local cache copy. There is no
// remote lock to remove.
func (r *Repository) ReleaseReadOnly(_ context.Context, localFile string) error {
	if err := os.Remove(localFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete local copy %q: %w", localFile, err)
	}
	return nil
}

// ListIDs enumerates the employee ids extracted from record file names
// in the remote repository.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	if err := r.ensureRemote(ctx); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(r.cfg.RemoteDir, RecordPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var ids []string
	for _, file := range matches {
		if m := idFromFileName.FindStringSubmatch(filepath.Base(file)); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids, nil
}

// findRecord locates exactly one record file whose name starts with
// the employee id.
func (r *Repository) findRecord(employeeID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.cfg.RemoteDir, RecordPattern))
	if err != nil {
		return "", fmt.Errorf("failed to list records: %w", err)
	}

	var found []string
	for _, file := range matches {
		name := filepath.Base(file)
		if len(name) >= len(employeeID) && name[:len(employeeID)] == employeeID {
			found = append(found, file)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no record file for employee %q", common.ErrRecordNotFound, employeeID)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: employee %q matches %d files", common.ErrAmbiguousRecord, employeeID, len(found))
	}
}

// acquireLock creates the lock file with exclusive-create semantics,
// retrying while it is held by another process.
func (r *Repository) acquireLock(ctx context.Context, lockPath string) error {
	// O_EXCL checks existence and creates in one operation, which is
	// the closest to atomic a plain shared directory offers.
	err := common.RetryUntil(ctx, r.cfg.LockTimeout, r.cfg.LockDelay, func() error {
		f, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if openErr != nil {
			return openErr
		}
		return f.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: cannot acquire %q: %v", common.ErrLockTimeout, lockPath, err)
	}
	return nil
}

// releaseLock removes the lock file, retrying on transient errors.
// "Already gone" is success.
func (r *Repository) releaseLock(ctx context.Context, lockPath string) error {
	err := common.RetryUntil(ctx, r.cfg.LockTimeout, r.cfg.LockDelay, func() error {
		if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: cannot release %q: %v", common.ErrReleaseTimeout, lockPath, err)
	}
	return nil
}

// ensureRemote waits for the remote directory to become reachable. A
// sleeping network drive often needs a write to spin up, so each
// failed existence check is followed by a wake-up probe write.
func (r *Repository) ensureRemote(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wakeupFile := filepath.Join(r.cfg.RemoteDir, wakeupFileName)

	err := common.RetryUntil(ctx, r.cfg.RemoteTimeout, r.cfg.RemoteDelay, func() error {
		if _, statErr := os.Stat(r.cfg.RemoteDir); statErr == nil {
			return nil
		}
		if writeErr := os.WriteFile(wakeupFile, []byte("Wakeup attempt.\n"), 0o640); writeErr != nil {
			return writeErr
		}
		// The write went through; the directory should resolve on the
		// next pass.
		return fmt.Errorf("remote %q not reachable yet", r.cfg.RemoteDir)
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %v", common.ErrRepositoryUnavailable, r.cfg.RemoteDir, err)
	}
	return nil
}

// copyFile copies src to dst, preserving the modification time so the
// cache copy mirrors the remote file's metadata.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, time.Now(), info.ModTime())
}
