package sdk

import (
	"context"
	"reflect"
	"strings"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/engine/reliability"
)

// Callable is the uniform shape every built-in SDK method and every
// registered native client method must expose to be dispatchable:
// a single positional argument (the resolved inputs) plus the run
// context, per spec §4.3 step 4 ("invoke with the resolved inputs as a
// single positional argument").
type Callable = func(ctx context.Context, input map[string]any) (any, error)

// Dispatcher implements workflow.StepExecutor: it resolves a dotted
// action string against the Registry and invokes the resolved method,
// wrapping every call through the reliability layer.
type Dispatcher struct {
	registry *Registry
	wrapper  *reliability.Wrapper
}

func NewDispatcher(registry *Registry, wrapper *reliability.Wrapper) *Dispatcher {
	return &Dispatcher{registry: registry, wrapper: wrapper}
}

// Execute implements workflow.StepExecutor.
func (d *Dispatcher) Execute(ctx context.Context, action string, input map[string]any) (any, error) {
	sdkName, methodPath, ok := splitAction(action)
	if !ok {
		return nil, core.Errorf(core.KindInvalidConfig, "action %q is not of the form sdk.method", action)
	}
	client, err := d.registry.Get(ctx, sdkName)
	if err != nil {
		return nil, err
	}

	if proxy, isMCP := client.(*MCPProxy); isMCP {
		return d.wrapper.Invoke(ctx, sdkName, action, input, func(ctx context.Context, input map[string]any) (any, error) {
			return proxy.Call(ctx, methodPath, input)
		})
	}

	fn, err := resolveCallable(client, methodPath)
	if err != nil {
		return nil, core.NewError(err, core.KindUnsupportedCapability, map[string]any{"action": action})
	}
	return d.wrapper.Invoke(ctx, sdkName, action, input, fn)
}

// resolveCallable walks the dotted method path over client, binding
// the receiver to the last object visited before the final segment —
// spec §4.3 step 4's example: "slack.chat.postMessage binds `this` to
// `chat`, not `slack`".
func resolveCallable(client any, methodPath string) (Callable, error) {
	segments := strings.Split(methodPath, ".")
	receiver := reflect.ValueOf(client)
	for i, seg := range segments {
		name := exportedName(seg)
		field := fieldOrMethod(receiver, name)
		if !field.IsValid() {
			return nil, core.Errorf(core.KindUnsupportedCapability, "no member %q on %s", seg, receiver.Type())
		}
		if i == len(segments)-1 {
			return asCallable(field)
		}
		receiver = field
	}
	return nil, core.Errorf(core.KindUnsupportedCapability, "empty method path")
}

func fieldOrMethod(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	if m := v.MethodByName(name); m.IsValid() {
		return m
	}
	direct := v
	for direct.Kind() == reflect.Ptr {
		if direct.IsNil() {
			return reflect.Value{}
		}
		direct = direct.Elem()
	}
	if direct.Kind() == reflect.Struct {
		f := direct.FieldByName(name)
		if f.IsValid() {
			return f
		}
	}
	return reflect.Value{}
}

// asCallable adapts a resolved reflect.Value — expected to be a method
// or field with signature func(context.Context, map[string]any) (any,
// error) — into a Callable.
func asCallable(v reflect.Value) (Callable, error) {
	if v.Kind() != reflect.Func {
		return nil, core.Errorf(core.KindUnsupportedCapability, "member is not callable")
	}
	fnType := v.Type()
	if fnType.NumIn() != 2 || fnType.NumOut() != 2 {
		return nil, core.Errorf(core.KindUnsupportedCapability, "member has an unsupported signature")
	}
	return func(ctx context.Context, input map[string]any) (any, error) {
		out := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(input)})
		var retErr error
		if errVal := out[1].Interface(); errVal != nil {
			retErr = errVal.(error)
		}
		return out[0].Interface(), retErr
	}, nil
}

// exportedName turns a dotted action segment like "postMessage" or
// "chat" into the exported Go identifier its built-in/registered
// method is named with ("PostMessage", "Chat").
func exportedName(seg string) string {
	if seg == "" {
		return seg
	}
	return strings.ToUpper(seg[:1]) + seg[1:]
}
