//go:build deadlock

package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock.Mutex in deadlock builds.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex in deadlock builds.
type RWMutex struct {
	deadlock.RWMutex
}
