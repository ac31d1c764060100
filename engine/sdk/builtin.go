package sdk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wovenflow/engine/engine/core"
)

// registerBuiltins installs the always-available SDKs spec §4.3 names:
// core, workflow, parallel, event, script — none of them carry a
// ToolConfig, so they are registered as already-built clients.
func registerBuiltins(r *Registry) {
	r.RegisterBuiltinClient("core", &CoreSDK{})
	r.RegisterBuiltinClient("workflow", &WorkflowSDK{})
	r.RegisterBuiltinClient("parallel", &ParallelSDK{})
	r.RegisterBuiltinClient("event", &EventSDK{})
	r.RegisterBuiltinClient("script", &ScriptSDK{})
}

// CoreSDK groups the transform/format/set/crypto/array/object
// operations spec §4.3 reserves under the `core.*` prefix.
type CoreSDK struct{}

// Set assigns a value to the step's declared output variable (spec §8
// S1: `core.set {value: 10} → x` must leave `scope.x == 10`, not
// `scope.x == {value: 10}`). When inputs carry a "value" key, that
// value is returned directly; otherwise the whole resolved inputs map
// is returned, so `core.set {x: 1, y: 2}` with no single "value" key
// can still be assigned wholesale to one output variable.
func (c *CoreSDK) Set(_ context.Context, input map[string]any) (any, error) {
	if v, ok := input["value"]; ok {
		return v, nil
	}
	return input, nil
}

// Noop does nothing, used by tests and by else-branches with no work.
func (c *CoreSDK) Noop(_ context.Context, _ map[string]any) (any, error) {
	return nil, nil
}

// Tick is a noop with a distinct name, used for while-loop bodies that
// exist only to drive the iteration count in tests and examples.
func (c *CoreSDK) Tick(_ context.Context, _ map[string]any) (any, error) {
	return nil, nil
}

// Transform applies one of a small set of named value transforms.
func (c *CoreSDK) Transform(_ context.Context, input map[string]any) (any, error) {
	op, _ := input["op"].(string)
	value := input["value"]
	switch op {
	case "toString":
		return fmt.Sprintf("%v", value), nil
	case "toJSON":
		b, err := json.Marshal(value)
		if err != nil {
			return nil, core.NewError(err, core.KindInvalidConfig, nil)
		}
		return string(b), nil
	default:
		return value, nil
	}
}

// Format applies fmt.Sprintf-style templating over the resolved args.
func (c *CoreSDK) Format(_ context.Context, input map[string]any) (any, error) {
	tpl, _ := input["template"].(string)
	args, _ := input["args"].([]any)
	return fmt.Sprintf(tpl, args...), nil
}

// Crypto exposes the one hash the spec's reliability layer itself
// needs elsewhere (sha256), kept intentionally narrow.
func (c *CoreSDK) Crypto(_ context.Context, input map[string]any) (any, error) {
	op, _ := input["op"].(string)
	value, _ := input["value"].(string)
	switch op {
	case "sha256":
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:]), nil
	default:
		return nil, core.Errorf(core.KindInvalidConfig, "unsupported crypto op %q", op)
	}
}

// Array exposes append/unique over a resolved array input; any other op
// (concat included) returns the items unchanged.
func (c *CoreSDK) Array(_ context.Context, input map[string]any) (any, error) {
	op, _ := input["op"].(string)
	items, _ := input["items"].([]any)
	switch op {
	case "unique":
		seen := map[any]bool{}
		out := make([]any, 0, len(items))
		for _, it := range items {
			if !seen[it] {
				seen[it] = true
				out = append(out, it)
			}
		}
		return out, nil
	case "append":
		return append(items, input["value"]), nil
	default:
		return items, nil
	}
}

// Object exposes merge/pick over resolved map inputs.
func (c *CoreSDK) Object(_ context.Context, input map[string]any) (any, error) {
	op, _ := input["op"].(string)
	obj, _ := input["object"].(map[string]any)
	switch op {
	case "merge":
		patch, _ := input["with"].(map[string]any)
		merged := map[string]any{}
		for k, v := range obj {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		return merged, nil
	case "pick":
		keys, _ := input["keys"].([]any)
		out := map[string]any{}
		for _, k := range keys {
			if ks, ok := k.(string); ok {
				if v, present := obj[ks]; present {
					out[ks] = v
				}
			}
		}
		return out, nil
	default:
		return obj, nil
	}
}

// WorkflowSDK groups sub-workflow control operations spec §4.3
// reserves under `workflow.*` for explicit action steps (as distinct
// from the StepSubWorkflow kind the engine dispatches directly).
type WorkflowSDK struct {
	Resolver WorkflowResolver
}

// WorkflowResolver is satisfied by workflow.Engine; kept as a narrow
// interface here so this package never imports engine/workflow.
type WorkflowResolver interface {
	TriggerWorkflow(ctx context.Context, ref string, inputs map[string]any) (map[string]any, error)
}

func (w *WorkflowSDK) Trigger(ctx context.Context, input map[string]any) (any, error) {
	if w.Resolver == nil {
		return nil, core.Errorf(core.KindUnsupportedCapability, "workflow.trigger requires a configured resolver")
	}
	ref, _ := input["workflow"].(string)
	inputs, _ := input["inputs"].(map[string]any)
	return w.Resolver.TriggerWorkflow(ctx, ref, inputs)
}

// ParallelSDK groups spawn/map operations reserved under `parallel.*`.
type ParallelSDK struct{}

func (p *ParallelSDK) Spawn(_ context.Context, input map[string]any) (any, error) {
	return input, nil
}

func (p *ParallelSDK) Map(_ context.Context, input map[string]any) (any, error) {
	items, _ := input["items"].([]any)
	return items, nil
}

// WaitOptions mirrors eventsource.WaitOptions; declared independently so
// this package never imports engine/eventsource directly.
type WaitOptions struct {
	Source  string
	Type    string
	Timeout time.Duration
}

// EventSDK groups connect/wait operations reserved under `event.*`.
type EventSDK struct {
	Waiter interface {
		WaitForEvent(ctx context.Context, opts WaitOptions) (map[string]any, error)
	}
}

func (e *EventSDK) Connect(_ context.Context, input map[string]any) (any, error) {
	return input, nil
}

func (e *EventSDK) Wait(ctx context.Context, input map[string]any) (any, error) {
	if e.Waiter == nil {
		return nil, core.Errorf(core.KindUnsupportedCapability, "event.wait requires an event source manager")
	}
	opts := WaitOptions{Timeout: 30 * time.Second}
	opts.Source, _ = input["source"].(string)
	opts.Type, _ = input["type"].(string)
	if ms, ok := input["timeoutMs"].(float64); ok {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	return e.Waiter.WaitForEvent(ctx, opts)
}

// ScriptSDK runs an external script as a subprocess, injecting the
// step's resolved scope as a JSON document on stdin under the
// `context` key (spec §4.3: "script.execute ... automatic context
// injection").
type ScriptSDK struct{}

func (s *ScriptSDK) Execute(ctx context.Context, input map[string]any) (any, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return nil, core.Errorf(core.KindInvalidConfig, "script.execute requires a command")
	}
	args := stringSlice(input["args"])
	payload := map[string]any{"context": input["context"], "inputs": input["inputs"]}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewError(err, core.KindInvalidConfig, nil)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, core.NewError(err, core.KindInternalError, map[string]any{"stderr": stderr.String()})
	}

	trimmed := strings.TrimSpace(stdout.String())
	var decoded any
	if trimmed != "" && json.Unmarshal([]byte(trimmed), &decoded) == nil {
		return decoded, nil
	}
	return trimmed, nil
}

func stringSlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
