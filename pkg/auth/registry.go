package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderConfig selects a provider and carries its raw configuration.
type ProviderConfig struct {
	Type   string          `yaml:"type" json:"type"`
	Config json.RawMessage `yaml:"config" json:"config"`
}

type ValidatorFactory func(config json.RawMessage) (Validator, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]ValidatorFactory)
)

// RegisterProvider makes a provider available under name. Providers call it
// from init; registering the same name twice panics.
func RegisterProvider(name string, factory ValidatorFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || factory == nil {
		panic("auth: RegisterProvider needs a name and a factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("auth: provider %q registered twice", name))
	}
	factories[name] = factory
}

// NewValidator builds a validator from the named provider. Names are case-insensitive.
func NewValidator(pc ProviderConfig) (Validator, error) {
	name := strings.ToLower(strings.TrimSpace(pc.Type))
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown auth provider %q (registered: %v)", pc.Type, ListProviders())
	}
	v, err := factory(pc.Config)
	if err != nil {
		return nil, fmt.Errorf("auth provider %s: %w", name, err)
	}
	return v, nil
}

// ListProviders returns registered provider names in order.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
