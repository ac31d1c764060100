// Package workflow implements the declarative workflow data model and
// execution engine described in spec §3 and §4.2: an immutable
// Workflow of Steps, executed against a mutable VariableScope, producing
// a StepResult per step and an overall run Result.
package workflow

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wovenflow/engine/engine/core"
)

// validate is the single package-wide validator instance, built once
// (validator.New() is expensive relative to a struct tag walk and is
// documented as safe for concurrent use once configured).
var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Mode is the optional workflow execution mode (spec §3).
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeDaemon Mode = "daemon"
)

// ToolConfig is a registered tool's declaration inside a workflow
// document (spec §3, §6): sdk identifier, optional auth map (literal or
// secret-reference values), and free-form options passed to the SDK's
// initializer.
type ToolConfig struct {
	SDK     string            `json:"sdk" yaml:"sdk" validate:"required"`
	Auth    map[string]string `json:"auth,omitempty" yaml:"auth,omitempty"`
	Options map[string]any    `json:"options,omitempty" yaml:"options,omitempty"`
}

// EventSourceConfig is one entry of a workflow's `sources` map (spec §6).
type EventSourceConfig struct {
	Kind    string         `json:"kind" yaml:"kind"`
	ID      string         `json:"id" yaml:"id"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Filter  []string       `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// ErrorPolicy governs what happens when a step can't be made to
// succeed (spec §4.2 "Failure propagation").
type ErrorPolicy string

const (
	ErrorPolicyFail     ErrorPolicy = "fail"
	ErrorPolicyContinue ErrorPolicy = "continue"
	ErrorPolicySkip     ErrorPolicy = "skip"
)

// WaitPolicy governs when a Parallel step's branches are considered done.
type WaitPolicy string

const (
	WaitAll      WaitPolicy = "all"
	WaitAny      WaitPolicy = "any"
	WaitMajority WaitPolicy = "majority"
)

// RetryPolicy is a step's optional retry configuration (spec §4.2).
type RetryPolicy struct {
	MaxAttempts       int             `json:"maxAttempts" yaml:"maxAttempts"`
	InitialDelay      time.Duration   `json:"initialDelayMs" yaml:"initialDelayMs"`
	BackoffMultiplier float64         `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	MaxDelay          time.Duration   `json:"maxDelayMs" yaml:"maxDelayMs"`
	RetryOn           []core.ErrorKind `json:"retryOn,omitempty" yaml:"retryOn,omitempty"`
}

// StepKind tags which variant of the Step sum type a Step holds
// (spec §3).
type StepKind string

const (
	StepAction      StepKind = "action"
	StepSubWorkflow StepKind = "sub_workflow"
	StepIf          StepKind = "if"
	StepForEach     StepKind = "for_each"
	StepParallel    StepKind = "parallel"
	StepWhile       StepKind = "while"
)

// Branch is one named sequence of steps inside a Parallel step.
type Branch struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Steps []Step `json:"steps" yaml:"steps" validate:"dive"`
}

// Step is the sum type spec §3 describes: common fields plus exactly
// one populated variant depending on Kind.
type Step struct {
	ID        string      `json:"id" yaml:"id" validate:"required"`
	Name      string      `json:"name,omitempty" yaml:"name,omitempty"`
	Output    string      `json:"output,omitempty" yaml:"output,omitempty"`
	Conditions []string   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Retry     *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	OnError   ErrorPolicy `json:"onError,omitempty" yaml:"onError,omitempty" validate:"omitempty,oneof=fail continue skip"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Kind StepKind `json:"kind" yaml:"kind" validate:"required,oneof=action sub_workflow if for_each parallel while"`

	// Action variant.
	Action string         `json:"action,omitempty" yaml:"action,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Sub-workflow variant.
	Workflow string `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	// If variant.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []Step `json:"then,omitempty" yaml:"then,omitempty" validate:"dive"`
	Else      []Step `json:"else,omitempty" yaml:"else,omitempty" validate:"dive"`

	// For-each variant.
	Items       string `json:"items,omitempty" yaml:"items,omitempty"`
	ItemVar     string `json:"itemVar,omitempty" yaml:"itemVar,omitempty"`
	Concurrency int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Steps       []Step `json:"steps,omitempty" yaml:"steps,omitempty" validate:"dive"`

	// Parallel variant.
	Branches   []Branch   `json:"branches,omitempty" yaml:"branches,omitempty" validate:"dive"`
	WaitPolicy WaitPolicy `json:"waitPolicy,omitempty" yaml:"waitPolicy,omitempty"`

	// While variant.
	MaxIterations int `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
}

// reservedNames may not be used as a step's output variable name (spec §3).
var reservedNames = map[string]bool{
	"inputs":      true,
	"item":        true,
	"itemIndex":   true,
	"accumulator": true,
}

// Workflow is immutable once parsed (spec §3).
type Workflow struct {
	ID      string                `json:"id" yaml:"id" validate:"required"`
	Name    string                `json:"name" yaml:"name" validate:"required"`
	Version string                `json:"version" yaml:"version" validate:"required"`
	Mode    Mode                  `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=batch daemon"`
	Steps   []Step                `json:"steps" yaml:"steps" validate:"required,dive"`
	Tools   map[string]ToolConfig `json:"tools,omitempty" yaml:"tools,omitempty" validate:"dive"`
	Sources []EventSourceConfig   `json:"sources,omitempty" yaml:"sources,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Validate runs struct-tag validation (required fields, enum values)
// via validator.v10 — the teacher's struct-tag validation idiom — then
// the semantic invariants spec §3 calls out that tags can't express:
// unique step ids within each scope, and output names that don't
// shadow reserved iteration bindings.
func (w *Workflow) Validate() error {
	if err := getValidator().Struct(w); err != nil {
		return core.NewError(err, core.KindInvalidConfig, map[string]any{"workflow": w.ID})
	}
	return validateSteps(w.Steps, map[string]bool{})
}

func validateSteps(steps []Step, seen map[string]bool) error {
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return core.Errorf(core.KindInvalidConfig, "step at index %d is missing an id", i)
		}
		if seen[s.ID] {
			return core.Errorf(core.KindInvalidConfig, "duplicate step id %q in scope", s.ID)
		}
		seen[s.ID] = true
		if s.Output != "" && reservedNames[s.Output] {
			return core.Errorf(core.KindInvalidConfig, "step %q output name %q is reserved", s.ID, s.Output)
		}
		var nested [][]Step
		switch s.Kind {
		case StepIf:
			nested = append(nested, s.Then, s.Else)
		case StepForEach, StepWhile:
			nested = append(nested, s.Steps)
		case StepParallel:
			for _, b := range s.Branches {
				nested = append(nested, b.Steps)
			}
		}
		for _, n := range nested {
			if err := validateSteps(n, map[string]bool{}); err != nil {
				return err
			}
		}
	}
	return nil
}
