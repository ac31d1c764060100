package workflow

import "time"

// StepStatus is one of the lifecycle states spec §3 defines for a
// StepResult.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// StepResult is the per-step record spec §3 specifies.
type StepResult struct {
	StepID      string         `json:"stepId"`
	Status      StepStatus     `json:"status"`
	Output      any            `json:"output,omitempty"`
	Error       map[string]any `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Duration    time.Duration  `json:"duration"`
	RetryCount  int            `json:"retryCount"`
}

// ParallelResult is a Parallel step's structured output (spec §4.2).
//
// Costs is carried for shape-completeness with spec §4.2's
// `{ successful, failed, results, errors, timing, costs }` output, but
// this engine has no cost-bearing component (no LLM/agent subsystem),
// so it is always populated with a zero entry per branch rather than
// omitted — see DESIGN.md.
type ParallelResult struct {
	Successful []string                  `json:"successful"`
	Failed     []string                  `json:"failed"`
	Results    map[string]any            `json:"results"`
	Errors     map[string]map[string]any `json:"errors"`
	Timing     map[string]time.Duration  `json:"timing"`
	Costs      map[string]float64        `json:"costs"`
}

// Result is a completed workflow run: the final scope, every step's
// result, and the overall status (spec §4.2 "Responsibility").
type Result struct {
	WorkflowID string                `json:"workflowId"`
	Status     StepStatus            `json:"status"`
	Steps      []StepResult          `json:"steps"`
	Output     map[string]any        `json:"output"`
	StartedAt  time.Time             `json:"startedAt"`
	CompletedAt time.Time            `json:"completedAt"`
}
