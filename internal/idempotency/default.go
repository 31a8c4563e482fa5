package idempotency

import "sync"

var (
	defaultMu          sync.RWMutex
	defaultCoordinator *Coordinator
)

// Configure installs c as the process-wide default, for handlers that cannot have
// a coordinator injected.
func Configure(c *Coordinator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCoordinator = c
}

// Default returns the coordinator installed by Configure, or nil.
func Default() *Coordinator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultCoordinator
}

// Reset clears the default coordinator.
func Reset() {
	Configure(nil)
}
