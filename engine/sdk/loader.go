package sdk

import (
	"sync"

	"github.com/wovenflow/engine/engine/core"
)

// StaticModuleLoader is the production ModuleLoader: packages are
// registered ahead of time (by an init-time wiring step, typically one
// per vendor integration) rather than discovered dynamically, since Go
// has no runtime equivalent of a JS `require(packageName)`.
type StaticModuleLoader struct {
	mu      sync.RWMutex
	modules map[string]any
}

func NewStaticModuleLoader() *StaticModuleLoader {
	return &StaticModuleLoader{modules: map[string]any{}}
}

// Register associates a package name with the Go value representing
// it: a constructor func(map[string]any) (any, error), a value
// exposing a Client(map[string]any) (any, error) method, or a value
// implementing MCPCapable.
func (l *StaticModuleLoader) Register(packageName string, module any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[packageName] = module
}

func (l *StaticModuleLoader) Load(packageName string) (any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	module, ok := l.modules[packageName]
	if !ok {
		return nil, core.Errorf(core.KindProviderNotFound, "no module registered under package %q", packageName)
	}
	return module, nil
}
