//go:build unix

// Package flock provides cross-platform exclusive file locking for the
// version counter's read-modify-write critical section.
package flock

import "golang.org/x/sys/unix"

// Exclusive acquires an exclusive blocking lock on the file descriptor.
func Exclusive(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

// Unlock releases the lock on the file descriptor.
func Unlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
