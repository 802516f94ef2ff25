// Package lockfile reads and writes small files shared between
// cooperating processes. Reads take a shared advisory lock, writes go
// through a sibling temp file under an exclusive lock and are renamed
// into place so readers never observe a partial write.
package lockfile

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

const (
	// filePerm is the permission mode for files written by this
	// package. They carry credential material, so owner-only.
	filePerm = fs.FileMode(0o600)

	// lockAcquireTimeout bounds how long a lock acquisition may spin.
	// A wedged writer must not stall readers indefinitely.
	lockAcquireTimeout = 5 * time.Second

	// lockRetryInterval is the pause between non-blocking lock attempts.
	lockRetryInterval = 10 * time.Millisecond
)

// ReadLocked reads the whole file under a shared advisory lock. The
// lock is held only for the duration of the read, not while the caller
// processes the bytes.
func ReadLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := acquireLock(f, false); err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	data, err := io.ReadAll(f)

	// Release before returning so a slow caller never holds the lock.
	releaseLock(f)

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}

// WriteAtomic writes data to path via a sibling temp file: exclusive
// lock, write, fsync, rename over the destination, chmod 0600. On any
// failure the temp file is removed and the destination is untouched.
func WriteAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}

	if err := writeLocked(f, data); err != nil {
		f.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	// The rename preserves the temp file's mode; chmod again in case
	// the destination pre-existed with wider permissions.
	if err := os.Chmod(path, filePerm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	return nil
}

func writeLocked(f *os.File, data []byte) error {
	if err := acquireLock(f, true); err != nil {
		return err
	}
	defer releaseLock(f)

	if _, err := f.Write(data); err != nil {
		return err
	}

	return f.Sync()
}

// acquireLock obtains a shared or exclusive advisory lock using
// non-blocking attempts until lockAcquireTimeout elapses.
func acquireLock(f *os.File, exclusive bool) error {
	deadline := time.Now().Add(lockAcquireTimeout)

	for {
		err := tryLock(f, exclusive)
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock acquisition timed out: %w", err)
		}

		time.Sleep(lockRetryInterval)
	}
}

func releaseLock(f *os.File) {
	_ = unlock(f)
}
