package checker

import (
	"fmt"
	"sort"
	"sync"
)

// Options carries implementation-specific settings.
type Options map[string]string

// Factory builds a checker from options.
type Factory func(opts Options) (Checker, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register makes a checker available under name. Implementations call it from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New creates the checker registered under name.
func New(name string, opts Options) (Checker, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown checker: %s", name)
	}
	if opts == nil {
		opts = Options{}
	}
	return factory(opts)
}

// List returns registered checker names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
