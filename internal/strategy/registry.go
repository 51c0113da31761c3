package strategy

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/deepterminal/deepterminal/pkg/errors"
)

// Factory builds a fresh strategy instance.
type Factory func() Strategy

// Registry maps strategy names to factories. Strategies are registered
// explicitly by the caller; nothing is discovered by reflection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	schemas   map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		schemas:   make(map[string]any),
	}
}

// Register adds a strategy factory under the given name. The optional
// configPrototype is a zero value of the strategy's config struct, used to
// derive its JSON schema. Re-registering a name overwrites the previous
// entry.
func (r *Registry) Register(name string, factory Factory, configPrototype any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	if configPrototype != nil {
		r.schemas[name] = configPrototype
	}
}

// Create builds and initializes a strategy by name.
func (r *Registry) Create(name string, config []byte) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q is not registered", name)
	}

	instance := factory()
	if err := instance.Initialize(config); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStrategyInitializeErr, err, "failed to initialize strategy %q", name)
	}

	return instance, nil
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ConfigSchema returns the JSON schema of a strategy's config struct.
func (r *Registry) ConfigSchema(name string) (string, error) {
	r.mu.RLock()
	prototype, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return "", errors.Newf(errors.ErrCodeStrategyNotFound, "no config schema registered for strategy %q", name)
	}

	reflector := new(jsonschema.Reflector)
	reflector.DoNotReference = true
	schema := reflector.Reflect(prototype)

	raw, err := json.Marshal(schema)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStrategySchemaFailed, "failed to marshal config schema", err)
	}

	return string(raw), nil
}
