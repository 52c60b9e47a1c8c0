//go:build unix

package lock

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile places an exclusive, non-blocking flock(2) on f so that a
// second process racing on the same lock file cannot also succeed.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
