//go:build windows

package lockfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// tryLock makes one non-blocking attempt at a Windows range lock
// covering the whole file.
func tryLock(f *os.File, exclusive bool) error {
	var flags uint32 = windows.LOCKFILE_FAIL_IMMEDIATELY
	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}

	ol := new(windows.Overlapped)

	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, ^uint32(0), ^uint32(0), ol)
}

// unlock releases the range lock held on the file handle.
func unlock(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, ^uint32(0), ^uint32(0), ol)
}
