//go:build unix

package store

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// FlockLocker uses advisory flock(2) locks. Acquisition blocks without a timeout.
type FlockLocker struct{}

// DefaultLocker returns the platform locker
func DefaultLocker() Locker {
	return FlockLocker{}
}

func (FlockLocker) LockShared(f *os.File) error {
	return flock(f, unix.LOCK_SH)
}

func (FlockLocker) LockExclusive(f *os.File) error {
	return flock(f, unix.LOCK_EX)
}

func (FlockLocker) Unlock(f *os.File) error {
	return flock(f, unix.LOCK_UN)
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
