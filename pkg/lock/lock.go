// Package lock provides drop-in replacements for sync mutexes with
// deadlock detection. Detection fires if a lock cannot be acquired
// within the configured timeout and dumps all goroutine stacks.
package lock

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// mirror runs can legitimately hold the repo lock for minutes on
	// large repositories, keep the detection window comfortably above
	// the default mirror timeout
	deadlock.Opts.DeadlockTimeout = 10 * time.Minute
}

// Mutex is a drop-in replacement for sync.Mutex.
type Mutex = deadlock.Mutex

// RWMutex is a drop-in replacement for sync.RWMutex.
type RWMutex = deadlock.RWMutex
