package engines

import (
	"sort"
	"strings"
	"sync"

	gerrors "github.com/TFMV/sqlgate/pkg/errors"
)

// Factory builds an engine from the shared dependencies.
type Factory func(deps Deps) Engine

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an engine available under dbType and any aliases. It panics
// when a name is registered twice.
func Register(dbType string, f Factory, aliases ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f == nil {
		panic("engines: Register factory is nil")
	}
	for _, name := range append([]string{dbType}, aliases...) {
		name = strings.ToLower(name)
		if _, dup := registry[name]; dup {
			panic("engines: Register called twice for " + name)
		}
		registry[name] = f
	}
}

// New returns the engine registered for dbType.
func New(dbType string, deps Deps) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(dbType)]
	registryMu.RUnlock()
	if !ok {
		return nil, gerrors.ErrUnknownEngine.WithDetail("db_type", dbType)
	}
	return f(deps.withDefaults()), nil
}

// Types returns the registered database types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
