package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRuntimeUnavailable is returned when no native runtime is linked.
var ErrRuntimeUnavailable = errors.New("inference runtime not available in this build")

// Unavailable refuses to build. It is the backend of builds without a
// native runtime and keeps those builds free of mocked inference.
var Unavailable Backend = BackendFunc(func(ctx context.Context, req BuildRequest) (Runtime, error) {
	return nil, fmt.Errorf("build %s runtime: %w", req.Info.Version, ErrRuntimeUnavailable)
})

const UnavailableName = "unavailable"

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{UnavailableName: Unavailable}
)

// Register makes a backend selectable by name. Native runtimes call it from init.
func Register(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown runtime backend %q (have %v)", name, backendNamesLocked())
	}
	return b, nil
}

// Backends lists registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return backendNamesLocked()
}

func backendNamesLocked() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
