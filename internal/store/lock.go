package store

import "os"

// Locker provides scoped shared/exclusive access to an open file.
// Every successful LockShared or LockExclusive must be paired with Unlock.
type Locker interface {
	LockShared(f *os.File) error
	LockExclusive(f *os.File) error
	Unlock(f *os.File) error
}

// NopLocker performs no locking. It is used on platforms without flock and in tests.
type NopLocker struct{}

func (NopLocker) LockShared(*os.File) error    { return nil }
func (NopLocker) LockExclusive(*os.File) error { return nil }
func (NopLocker) Unlock(*os.File) error        { return nil }
