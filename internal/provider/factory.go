package provider

import "fmt"

// Factory creates a ModelClient for a provider/model pair. Concrete
// constructors are registered by the cmd wiring to keep this package free of
// SDK imports.
type Factory func(model string) ModelClient

var factories = map[string]Factory{}

// Register associates a provider name with a client constructor.
func Register(name string, f Factory) {
	factories[name] = f
}

// New creates a client for the named provider.
func New(name, model string) (ModelClient, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return f(model), nil
}
