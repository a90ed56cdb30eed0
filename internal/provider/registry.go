package provider

import (
	"fmt"
	"sort"
)

// Registry resolves provider codes to their drivers.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates a Registry over the given drivers, keyed by
// Driver.Name.
func NewRegistry(drivers ...Driver) *Registry {
	m := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		m[d.Name()] = d
	}
	return &Registry{drivers: m}
}

// Register adds or replaces a driver.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Name()] = d
}

// Resolve returns the driver for a provider code, or ErrProviderNotFound.
func (r *Registry) Resolve(name string) (Driver, error) {
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return d, nil
}

// Names returns the registered provider codes, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
