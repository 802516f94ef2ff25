//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLock makes one non-blocking attempt at a POSIX advisory lock on
// the whole file.
func tryLock(f *os.File, exclusive bool) error {
	lockType := int16(unix.F_RDLCK)
	if exclusive {
		lockType = unix.F_WRLCK
	}

	flock := unix.Flock_t{Type: lockType, Whence: int16(0)}

	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}

// unlock releases any advisory lock held on the file handle.
func unlock(f *os.File) error {
	flock := unix.Flock_t{Type: unix.F_UNLCK, Whence: int16(0)}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}
