//go:build !unix

package store

// DefaultLocker returns the platform locker
func DefaultLocker() Locker {
	return NopLocker{}
}
