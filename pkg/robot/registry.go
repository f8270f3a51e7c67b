package robot

import (
	"fmt"
	"sort"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]SDK)
)

// Register makes an SDK available by name. It panics if called twice with the
// same name or with a nil SDK.
func Register(name string, sdk SDK) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if sdk == nil {
		panic("robot: Register sdk is nil")
	}
	if _, dup := backends[name]; dup {
		panic("robot: Register called twice for backend " + name)
	}
	backends[name] = sdk
}

// Lookup returns the SDK registered under name.
func Lookup(name string) (SDK, error) {
	backendsMu.RLock()
	sdk, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	return sdk, nil
}

// Backends returns the sorted names of registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
