// Command enginectl is the minimal "front door" the engine library
// needs to be runnable without reimplementing the (out-of-scope)
// authored-document parser (spec §1): it decodes an already-structured
// JSON workflow document plus a JSON inputs document, wires the full
// dependency chain (§2's "Error Taxonomy → Secret Manager → Circuit
// Breaker/Rate Limiter → Reliability Wrapper → SDK Registry →
// Expression Resolver → Workflow Engine → Event Source Manager"), runs
// the workflow to completion, and prints the resulting workflow.Result
// as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/engine/eventsource"
	"github.com/wovenflow/engine/engine/reliability"
	"github.com/wovenflow/engine/engine/sdk"
	"github.com/wovenflow/engine/engine/secret"
	"github.com/wovenflow/engine/engine/workflow"
	"github.com/wovenflow/engine/pkg/config"
	"github.com/wovenflow/engine/pkg/logger"
)

// eventWaiter adapts eventsource.Manager to the narrow interface
// sdk.EventSDK depends on, so engine/sdk never imports engine/eventsource.
type eventWaiter struct{ mgr *eventsource.Manager }

func (w eventWaiter) WaitForEvent(ctx context.Context, opts sdk.WaitOptions) (map[string]any, error) {
	return w.mgr.WaitForEvent(ctx, eventsource.WaitOptions{
		Source: opts.Source, Type: opts.Type, Timeout: opts.Timeout,
	})
}

// singleFileResolver only ever resolves the one workflow this process
// loaded, keyed by its own id; enginectl runs a single document, so
// sub-workflow references to any other id are unsupported here.
type singleFileResolver struct{ wf *workflow.Workflow }

func (r singleFileResolver) Resolve(ref string) (*workflow.Workflow, error) {
	if ref == r.wf.ID {
		return r.wf, nil
	}
	return nil, core.Errorf(core.KindUnsupportedCapability, "enginectl only loads a single workflow document; unknown ref %q", ref)
}

func main() {
	workflowPath := flag.String("workflow", "", "path to a JSON-encoded Workflow document")
	inputsPath := flag.String("inputs", "", "path to a JSON-encoded inputs object (optional)")
	flag.Parse()

	if *workflowPath == "" {
		fmt.Fprintln(os.Stderr, "usage: enginectl -workflow workflow.json [-inputs inputs.json]")
		os.Exit(2)
	}

	ctx := logger.ContextWithLogger(context.Background(), logger.NewLogger(logger.DefaultConfig()))
	if err := run(ctx, *workflowPath, *inputsPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, workflowPath, inputsPath string) error {
	wf, err := loadWorkflow(workflowPath)
	if err != nil {
		return err
	}
	inputs, err := loadInputs(inputsPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	secrets := secret.NewManager(
		secret.WithTTL(cfg.Secret.CacheTTL),
		secret.WithThrowOnNotFound(cfg.Secret.ThrowOnNotFound),
		secret.WithVisiblePrefix(cfg.Secret.VisiblePrefix),
	)

	breakers := reliability.NewCircuitRegistry(reliability.CircuitConfig{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		FailureWindow:    cfg.Circuit.FailureWindow,
		ResetTimeout:     cfg.Circuit.ResetTimeout,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
	}, nil)
	limiter := reliability.NewRateLimiter(nil)
	wrapper := reliability.NewWrapper(breakers, limiter, reliability.CallConfig{
		Timeout:           cfg.Reliability.Timeout,
		MaxRetries:        cfg.Reliability.MaxRetries,
		InitialDelay:      cfg.Reliability.InitialDelay,
		MaxDelay:          cfg.Reliability.MaxDelay,
		RetryableStatuses: cfg.Reliability.RetryableStatuses,
	})

	loader := sdk.NewStaticModuleLoader()
	registry := sdk.NewRegistry(loader, secrets, sdk.StdioMCPConnector{})
	for name, tc := range wf.Tools {
		if err := registry.Register(name, sdk.ToolConfig{SDK: tc.SDK, Auth: tc.Auth, Options: tc.Options}); err != nil {
			return err
		}
	}

	sourceMgr := eventsource.NewManager(eventsource.DefaultFactory{})
	defer sourceMgr.StopAll()
	for _, src := range wf.Sources {
		if err := sourceMgr.Add(ctx, eventsource.Config{
			ID: src.ID, Kind: src.Kind, Options: src.Options, Filter: src.Filter,
		}); err != nil {
			return err
		}
	}
	if eventClient, err := registry.Get(ctx, "event"); err == nil {
		if ev, ok := eventClient.(*sdk.EventSDK); ok {
			ev.Waiter = eventWaiter{mgr: sourceMgr}
		}
	}

	dispatcher := sdk.NewDispatcher(registry, wrapper)
	engine := workflow.NewEngine(dispatcher, singleFileResolver{wf: wf})

	result, err := engine.Execute(ctx, wf, inputs)
	if result != nil {
		out, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr == nil {
			fmt.Println(string(out))
		}
	}
	return err
}

func loadWorkflow(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow document: %w", err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow document: %w", err)
	}
	return &wf, nil
}

func loadInputs(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inputs document: %w", err)
	}
	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("decoding inputs document: %w", err)
	}
	return inputs, nil
}
