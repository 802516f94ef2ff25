//go:build !unix && !windows

package lockfile

import "os"

// tryLock is a stub on platforms without advisory locking; atomic
// rename still protects readers from partial writes.
func tryLock(f *os.File, exclusive bool) error { return nil }

// unlock is the stub counterpart to tryLock.
func unlock(f *os.File) error { return nil }
