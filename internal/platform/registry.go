// ABOUTME: Registry resolving platform discriminators to adapter instances
// ABOUTME: Unknown platform names are a configuration error, not a runtime condition

package platform

import (
	"errors"
	"fmt"
)

// ErrUnknownPlatform indicates a platform name with no registered adapter.
// This is a configuration error: it means a webhook route or account row
// references a platform the build does not support.
var ErrUnknownPlatform = errors.New("unknown platform")

// Constructor builds an adapter over the shared outbound client.
type Constructor func(client *Client) Adapter

// Registry maps platform discriminators to adapter instances. Construct one
// per process and pass it by reference; there is no package-level default.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry containing every known platform adapter.
func NewRegistry(client *Client) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for name, ctor := range map[string]Constructor{
		Telegram:  NewTelegramAdapter,
		Line:      NewLineAdapter,
		Messenger: NewMessengerAdapter,
	} {
		r.adapters[name] = ctor(client)
	}
	return r
}

// Register adds or replaces an adapter. Tests use this to install fakes.
func (r *Registry) Register(name string, adapter Adapter) {
	r.adapters[name] = adapter
}

// Get resolves a platform name to its adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return adapter, nil
}

// Platforms lists the registered platform names.
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
