// Package sdk implements the SDK Registry & Step Executor (spec §4.3):
// dotted-action dispatch against lazily constructed tool clients, with
// built-in SDKs always available and an MCP proxy fallback for tools
// whose package exposes an MCP server instead of a native client.
package sdk

import (
	"context"
	"strings"
	"sync"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/engine/secret"
)

// ToolConfig is the registry's view of a workflow's tool declaration
// (mirrors workflow.ToolConfig; kept independent so this package never
// imports engine/workflow).
type ToolConfig struct {
	SDK     string
	Auth    map[string]string
	Options map[string]any
}

// Initializer is the user-extension contract spec §6 defines:
// programmatic registration of a package-specific client constructor.
type Initializer interface {
	Name() string
	Validate(config map[string]any) []error
	Initialize(module any, config map[string]any) (any, error)
}

// ModuleLoader resolves a package name (after the alias map is applied)
// to the Go value representing that package's exported surface — a
// constructor function, a `Client` value, or an MCP-capable handle.
type ModuleLoader interface {
	Load(packageName string) (any, error)
}

// packageAliases renames well-known SDK names to their underlying
// module/package name before the loader resolves them (spec §4.3 step
// 3b example: "google-gmail → googleapis").
var packageAliases = map[string]string{
	"google-gmail": "googleapis",
	"google-sheets": "googleapis",
}

func resolvePackageName(sdkName string) string {
	if alias, ok := packageAliases[sdkName]; ok {
		return alias
	}
	return sdkName
}

// instance is one SDKInstance (spec §3): created empty at Register,
// populated on first Dispatcher call, released on Clear.
type instance struct {
	mu     sync.Mutex
	config ToolConfig
	client any
	built  bool
}

// Registry is the process-wide singleton spec §5 requires: safe under
// concurrent access, a client once built is shared by every caller.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]*instance
	initializers map[string]Initializer
	loader       ModuleLoader
	secrets      *secret.Manager
	mcpConnector MCPConnector
}

func NewRegistry(loader ModuleLoader, secrets *secret.Manager, mcp MCPConnector) *Registry {
	r := &Registry{
		tools:        map[string]*instance{},
		initializers: map[string]Initializer{},
		loader:       loader,
		secrets:      secrets,
		mcpConnector: mcp,
	}
	registerBuiltins(r)
	return r
}

// RegisterInitializer adds a user extension's initializer, consulted in
// step 3c of the resolution algorithm.
func (r *Registry) RegisterInitializer(init Initializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initializers[init.Name()] = init
}

// Register declares a tool under name with the given config; it is not
// built until first use (spec §3 "ToolConfig ... Lifecycle").
func (r *Registry) Register(name string, cfg ToolConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return core.Errorf(core.KindProviderConflict, "tool %q already registered", name)
	}
	r.tools[name] = &instance{config: cfg}
	return nil
}

// RegisterBuiltinClient registers an already-built client directly,
// used for the always-available built-in SDKs (core/workflow/parallel/
// event/script), which need no secret resolution or module loading.
func (r *Registry) RegisterBuiltinClient(name string, client any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &instance{client: client, built: true}
}

// Get returns the named SDK instance's client, building it on first
// call per the resolution algorithm in spec §4.3 step 3.
func (r *Registry) Get(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	inst, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.Errorf(core.KindProviderNotFound, "no SDK registered under %q", name)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.built {
		return inst.client, nil
	}
	client, err := r.build(ctx, name, inst.config)
	if err != nil {
		return nil, err
	}
	inst.client = client
	inst.built = true
	return client, nil
}

// build implements resolution steps 3a-3e.
func (r *Registry) build(ctx context.Context, name string, cfg ToolConfig) (any, error) {
	resolvedAuth, err := r.secrets.ResolveAuth(ctx, cfg.Auth)
	if err != nil {
		return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"sdk": name})
	}
	resolvedCfg := map[string]any{"auth": resolvedAuth, "options": cfg.Options}

	module, err := r.loader.Load(resolvePackageName(cfg.SDK))
	if err != nil {
		return nil, core.NewError(err, core.KindProviderNotFound, map[string]any{"sdk": name})
	}

	r.mu.RLock()
	init, hasInit := r.initializers[name]
	r.mu.RUnlock()
	if hasInit {
		if errs := init.Validate(resolvedCfg); len(errs) > 0 {
			return nil, core.Errorf(core.KindInvalidConfig, "invalid config for %q: %v", name, errs)
		}
		return init.Initialize(module, resolvedCfg)
	}

	if caps, ok := module.(MCPCapable); ok && r.mcpConnector != nil {
		handle, err := r.mcpConnector.Connect(ctx, caps.MCPServerSpec())
		if err != nil {
			return nil, core.NewError(err, core.KindProviderNotFound, map[string]any{"sdk": name})
		}
		return NewMCPProxy(handle), nil
	}

	return genericInitialize(module, resolvedCfg)
}

// Clear releases every built client, the registry's equivalent of
// spec §3's "released when the registry is cleared".
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.tools {
		inst.mu.Lock()
		inst.client = nil
		inst.built = false
		inst.mu.Unlock()
	}
}

// genericInitialize applies spec §4.3 step 3e: try the module itself as
// a constructor, then a `Client` field/method, then the module as-is.
func genericInitialize(module any, cfg map[string]any) (any, error) {
	if ctor, ok := module.(func(map[string]any) (any, error)); ok {
		return ctor(cfg)
	}
	if named, ok := module.(interface{ Client(map[string]any) (any, error) }); ok {
		return named.Client(cfg)
	}
	return module, nil
}

// splitAction implements resolution step 1: split at the first '.'.
func splitAction(action string) (sdkName, methodPath string, ok bool) {
	i := strings.Index(action, ".")
	if i < 0 {
		return "", "", false
	}
	return action[:i], action[i+1:], true
}
