package bridge

import (
	"sync"
)

// bridgeLock provides per-bridge locking so concurrent start/stop requests
// for the same bridge serialize instead of double-spawning a process.
type bridgeLock struct {
	locks sync.Map // bridge ID -> *sync.Mutex
}

// Lock acquires the lock for the given bridge ID.
// Returns a mutex that the caller MUST unlock when done.
func (bl *bridgeLock) Lock(bridgeID string) *sync.Mutex {
	mutex, _ := bl.locks.LoadOrStore(bridgeID, &sync.Mutex{})
	m := mutex.(*sync.Mutex)
	m.Lock()
	return m
}

// Forget drops the lock entry for a deleted bridge.
func (bl *bridgeLock) Forget(bridgeID string) {
	bl.locks.Delete(bridgeID)
}
