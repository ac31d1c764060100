package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/wovenflow/engine/engine/core"
	"github.com/wovenflow/engine/engine/expr"
	"github.com/wovenflow/engine/pkg/logger"
)

// StepExecutor is the engine→registry contract spec §6 defines:
// dispatch a resolved action string with resolved inputs and return its
// result. Implemented by engine/sdk's Dispatcher.
type StepExecutor interface {
	Execute(ctx context.Context, action string, input map[string]any) (any, error)
}

// WorkflowResolver looks up a referenced workflow by id for the
// Sub-workflow step variant.
type WorkflowResolver interface {
	Resolve(ref string) (*Workflow, error)
}

// Engine executes a Workflow against inputs, producing a Result (spec
// §4.2). It is intentionally small: the step dispatch table lives here,
// every outbound side effect is delegated to StepExecutor.
type Engine struct {
	executor StepExecutor
	resolver WorkflowResolver
}

func NewEngine(executor StepExecutor, resolver WorkflowResolver) *Engine {
	return &Engine{executor: executor, resolver: resolver}
}

// Execute runs wf to completion (or failure) against inputs.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, inputs map[string]any) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	scope := NewRootScope(inputs)
	res := &Result{WorkflowID: wf.ID, Status: StatusCompleted, StartedAt: started}

	steps, err := e.runSteps(ctx, wf.Steps, scope)
	res.Steps = append(res.Steps, steps...)
	res.CompletedAt = time.Now()
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	res.Output = scopeToMap(scope)
	return res, nil
}

// runSteps executes a sequence of steps in the given scope, honoring
// each step's error policy, and returns as soon as a step fails with
// ErrorPolicyFail (the default).
func (e *Engine) runSteps(ctx context.Context, steps []Step, scope *VariableScope) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return results, core.Errorf(core.KindTimeout, "workflow canceled: %v", err)
		}
		step := &steps[i]
		result, err := e.runStep(ctx, step, scope)
		results = append(results, result)
		if err == nil {
			continue
		}
		policy := step.OnError
		if policy == "" {
			policy = ErrorPolicyFail
		}
		switch policy {
		case ErrorPolicyContinue, ErrorPolicySkip:
			logger.FromContext(ctx).Warn("step failed, continuing per error policy",
				"step", step.ID, "policy", policy, "error", core.RedactError(err))
			continue
		default:
			return results, err
		}
	}
	return results, nil
}

// runStep evaluates a step's conditions, then dispatches by Kind,
// applying its retry policy around the single-attempt body.
func (e *Engine) runStep(ctx context.Context, step *Step, scope *VariableScope) (StepResult, error) {
	result := StepResult{StepID: step.ID, StartedAt: time.Now()}

	ok, err := evalConditions(step.Conditions, scope)
	if err != nil {
		return failResult(result, err), err
	}
	if !ok {
		result.Status = StatusSkipped
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
		return result, nil
	}

	output, err := e.runWithRetry(ctx, step, scope, &result)
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		return failResult(result, err), err
	}
	result.Status = StatusCompleted
	result.Output = output
	if step.Output != "" {
		scope.SetAny(step.Output, output)
	}
	return result, nil
}

func failResult(result StepResult, err error) StepResult {
	result.Status = StatusFailed
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if ce, ok := core.AsCoreError(err); ok {
		result.Error = ce.AsMap()
	} else {
		result.Error = map[string]any{"message": err.Error()}
	}
	return result
}

// runWithRetry applies step.Retry (if set) around a single dispatch
// attempt, per spec §4.2 "Retry policy".
func (e *Engine) runWithRetry(ctx context.Context, step *Step, scope *VariableScope, result *StepResult) (any, error) {
	policy := step.Retry
	attempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		attempts = policy.MaxAttempts
	}
	var lastErr error
	delay := time.Second
	if policy != nil && policy.InitialDelay > 0 {
		delay = policy.InitialDelay
	}
	multiplier := 2.0
	if policy != nil && policy.BackoffMultiplier > 0 {
		multiplier = policy.BackoffMultiplier
	}
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := e.dispatch(ctx, step, scope)
		if err == nil {
			return output, nil
		}
		lastErr = err
		result.RetryCount = attempt
		if !retryAllowed(policy, err) || attempt == attempts-1 {
			return nil, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.Errorf(core.KindTimeout, "step %q canceled while retrying", step.ID)
		}
		next := time.Duration(float64(delay) * multiplier)
		if policy != nil && policy.MaxDelay > 0 && next > policy.MaxDelay {
			next = policy.MaxDelay
		}
		delay = next
	}
	return nil, lastErr
}

func retryAllowed(policy *RetryPolicy, err error) bool {
	if policy == nil {
		return false
	}
	ce, ok := core.AsCoreError(err)
	if !ok {
		return false
	}
	if len(policy.RetryOn) == 0 {
		return ce.Retryable()
	}
	for _, k := range policy.RetryOn {
		if k == ce.Kind {
			return true
		}
	}
	return false
}

// dispatch implements the per-variant behavior of the step dispatch
// table (spec §4.2).
func (e *Engine) dispatch(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	switch step.Kind {
	case StepAction:
		return e.dispatchAction(ctx, step, scope)
	case StepSubWorkflow:
		return e.dispatchSubWorkflow(ctx, step, scope)
	case StepIf:
		return e.dispatchIf(ctx, step, scope)
	case StepForEach:
		return e.dispatchForEach(ctx, step, scope)
	case StepParallel:
		return e.dispatchParallel(ctx, step, scope)
	case StepWhile:
		return e.dispatchWhile(ctx, step, scope)
	default:
		return nil, core.Errorf(core.KindInvalidConfig, "unknown step kind %q", step.Kind)
	}
}

func (e *Engine) dispatchAction(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	resolved, err := expr.Resolve(step.Inputs, scope)
	if err != nil {
		return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
	}
	input, _ := resolved.(map[string]any)
	if step.Action == "script.execute" {
		// spec §4.3: "when the action is script.execute, the engine
		// automatically injects the current variable scope as context".
		if input == nil {
			input = map[string]any{}
		}
		input["context"] = scopeToMap(scope)
	}
	return e.executor.Execute(ctx, step.Action, input)
}

func (e *Engine) dispatchSubWorkflow(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	if e.resolver == nil {
		return nil, core.Errorf(core.KindInvalidConfig, "no workflow resolver configured for sub-workflow step %q", step.ID)
	}
	sub, err := e.resolver.Resolve(step.Workflow)
	if err != nil {
		return nil, core.NewError(err, core.KindInvalidConfig, map[string]any{"workflow": step.Workflow})
	}
	resolved, err := expr.Resolve(step.Inputs, scope)
	if err != nil {
		return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
	}
	input, _ := resolved.(map[string]any)
	result, err := e.Execute(ctx, sub, input)
	if err != nil {
		return nil, err
	}
	if step.Output != "" {
		if v, ok := result.Output[step.Output]; ok {
			return v, nil
		}
	}
	return result.Output, nil
}

func (e *Engine) dispatchIf(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	truthy, err := expr.EvalCondition(step.Condition, scope)
	if err != nil {
		return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
	}
	branch := step.Else
	if truthy {
		branch = step.Then
	}
	results, err := e.runSteps(ctx, branch, scope)
	if err != nil {
		return nil, err
	}
	return stepsOutput(results), nil
}

func (e *Engine) dispatchWhile(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	var results []StepResult
	for i := 0; step.MaxIterations <= 0 || i < step.MaxIterations; i++ {
		truthy, err := expr.EvalCondition(step.Condition, scope)
		if err != nil {
			return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
		}
		if !truthy {
			break
		}
		iterResults, err := e.runSteps(ctx, step.Steps, scope)
		results = append(results, iterResults...)
		if err != nil {
			return nil, err
		}
	}
	return stepsOutput(results), nil
}

func stepsOutput(results []StepResult) any {
	if len(results) == 0 {
		return nil
	}
	return results[len(results)-1].Output
}

// dispatchForEach implements spec §4.2's For-each variant: sequential
// when concurrency <= 1, fan-out up to `concurrency` tasks otherwise,
// always preserving output order by item index (spec §5 "For-each with
// concurrency > 1 preserves output order").
func (e *Engine) dispatchForEach(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	itemsNode, err := expr.Parse(step.Items)
	if err != nil {
		return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
	}
	itemsVal, err := expr.Eval(itemsNode, scope)
	if err != nil {
		return nil, core.NewError(err, core.KindExpressionError, map[string]any{"step": step.ID})
	}
	if itemsVal.Kind != expr.KindArray {
		return nil, core.Errorf(core.KindExpressionError, "for-each items expression did not evaluate to an array")
	}
	items := itemsVal.Arr
	out := make([]any, len(items))
	itemVar := step.ItemVar
	if itemVar == "" {
		itemVar = "item"
	}

	runOne := func(idx int) error {
		child := scope.Child()
		child.Set(itemVar, items[idx])
		child.SetAny("itemIndex", idx)
		results, err := e.runSteps(ctx, step.Steps, child)
		if err != nil {
			return err
		}
		if len(results) == 0 || results[len(results)-1].Status == StatusSkipped {
			out[idx] = nil
			return nil
		}
		out[idx] = results[len(results)-1].Output
		return nil
	}

	concurrency := step.Concurrency
	if concurrency <= 1 {
		for i := range items {
			if err := runOne(i); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return out, runForEachConcurrent(len(items), concurrency, runOne)
}

func runForEachConcurrent(n, concurrency int, runOne func(int) error) error {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[idx] = runOne(idx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// dispatchParallel implements spec §4.2's Parallel variant: every
// branch sees an isolated snapshot of the parent scope taken at launch
// (spec §5), and the wait policy governs how many branches must
// complete before the step itself is considered done.
func (e *Engine) dispatchParallel(ctx context.Context, step *Step, scope *VariableScope) (any, error) {
	policy := step.WaitPolicy
	if policy == "" {
		policy = WaitAll
	}
	type branchOutcome struct {
		name   string
		output any
		err    error
		dur    time.Duration
	}
	outcomes := make(chan branchOutcome, len(step.Branches))
	for _, b := range step.Branches {
		go func(b Branch) {
			start := time.Now()
			child := scope.Snapshot()
			results, err := e.runSteps(ctx, b.Steps, child)
			outcomes <- branchOutcome{name: b.Name, output: stepsOutput(results), err: err, dur: time.Since(start)}
		}(b)
	}

	result := ParallelResult{
		Results: map[string]any{},
		Errors:  map[string]map[string]any{},
		Timing:  map[string]time.Duration{},
		// No LLM/agent subsystem exists to meter, so every branch gets
		// a zero entry rather than an omitted field (spec §4.2 shape).
		Costs: map[string]float64{},
	}
	for _, b := range step.Branches {
		result.Costs[b.Name] = 0
	}
	needed := len(step.Branches)
	switch policy {
	case WaitAny:
		needed = 1
	case WaitMajority:
		needed = len(step.Branches)/2 + 1
	}

	completed := 0
	for completed < len(step.Branches) {
		o := <-outcomes
		completed++
		result.Timing[o.name] = o.dur
		result.Costs[o.name] = 0
		if o.err != nil {
			result.Failed = append(result.Failed, o.name)
			if ce, ok := core.AsCoreError(o.err); ok {
				result.Errors[o.name] = ce.AsMap()
			} else {
				result.Errors[o.name] = map[string]any{"message": o.err.Error()}
			}
		} else {
			result.Successful = append(result.Successful, o.name)
			result.Results[o.name] = o.output
		}
		if len(result.Successful) >= needed && policy != WaitAll {
			break
		}
	}
	return result, nil
}

func evalConditions(conditions []string, scope *VariableScope) (bool, error) {
	for _, c := range conditions {
		truthy, err := expr.EvalCondition(c, scope)
		if err != nil {
			return false, core.NewError(err, core.KindExpressionError, nil)
		}
		if !truthy {
			return false, nil
		}
	}
	return true, nil
}

func scopeToMap(scope *VariableScope) map[string]any {
	snap := scope.Snapshot()
	out := map[string]any{}
	for k, v := range snap.vars {
		out[k] = v.ToAny()
	}
	return out
}
