package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the name of the lock file inside a locked directory.
const FileName = "LOCK"

// ErrLocked is returned when the directory is already owned by another instance.
var ErrLocked = errors.New("directory already in use by another bitcask instance")

// Lock is an acquired directory lock. The lock file holds the pid of the
// owning process and is removed by Unlock.
//
// A process that dies without calling Unlock leaves the file behind. It is
// never removed automatically: an operator must confirm the recorded pid
// is gone and delete the file by hand.
type Lock struct {
	file *os.File
	path string
}

// Path returns the path of the lock file.
func (l *Lock) Path() string {
	return l.path
}

// LockDirectory acquires the single-writer lock for dir. It is attempted
// once; if the lock file already exists the call fails with ErrLocked.
func LockDirectory(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, lockedError(path)
		}
		return nil, fmt.Errorf("unable to create lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w (%s): %v", ErrLocked, path, err)
	}

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		unlockFile(f)
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("unable to write lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		unlockFile(f)
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("unable to sync lock file: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

// Unlock releases the lock and removes the lock file. It should be called
// exactly once for each successful LockDirectory call.
func (l *Lock) Unlock() error {
	unlockFile(l.file)
	closeErr := l.file.Close()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove lock file: %w", err)
	}
	return closeErr
}

// OwnerPID reads the pid recorded in the lock file of dir.
func OwnerPID(dir string) (int, error) {
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func lockedError(path string) error {
	if pid, err := OwnerPID(filepath.Dir(path)); err == nil {
		return fmt.Errorf("%w (%s held by pid %d)", ErrLocked, path, pid)
	}
	return fmt.Errorf("%w (%s)", ErrLocked, path)
}
