// Package lock provides the mutual exclusion used around an allocation run.
// A key is held by at most one caller at a time; TryLock never waits.
package lock

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyKey  = errors.New("lock key is empty")
	ErrNotHeld   = errors.New("lock was not held or already expired")
	ErrNilHandle = errors.New("lock handle is nil")
)

// Handle releases a lock obtained from TryLock.
type Handle interface {
	Unlock(ctx context.Context) error
}

// Locker hands out non-blocking locks keyed by string.
type Locker interface {
	// TryLock reports acquired=false with a nil error when another holder has the key.
	TryLock(ctx context.Context, key string) (Handle, bool, error)
}

// AllocationKey is the lock key for one plan event version pair.
func AllocationKey(planEventID, planVersionID string) string {
	return "allocation:" + planEventID + ":" + planVersionID
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
