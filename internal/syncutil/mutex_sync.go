//go:build !deadlock

// Package syncutil provides the mutexes guarding the protocol engines, the
// interchange and the credential stores. Builds tagged deadlock swap them
// for github.com/sasha-s/go-deadlock, which reports lock-order inversions
// and locks held too long.
package syncutil

import "sync"

// Mutex is a sync.Mutex in regular builds.
type Mutex struct {
	sync.Mutex //nolint:gocritic // embedded to expose Lock and Unlock
}

// RWMutex is a sync.RWMutex in regular builds.
type RWMutex struct {
	sync.RWMutex //nolint:gocritic // embedded to expose the lock methods
}
