// Package lock provides a single-host advisory lock that keeps two pipeline
// cycles from running against the same store at once.
package lock

import "errors"

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("lock: already held")

// Lock is a held advisory lock.
type Lock struct {
	path    string
	release func() error
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
