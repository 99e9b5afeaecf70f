package worker

import (
	"context"

	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
)

// Execution is the argument passed to a JobExecutor: the claimed Job
// plus the identity of the worker running it. Generalizes
// pkg/task/executor.go's ExecutionContext from a single cluster-scoped
// WorkloadTaskState to the multi-tenant Job model.
type Execution struct {
	Job        *model.Job
	WorkerID   string
	Normalized map[string]interface{}
}

// Result is what a JobExecutor reports back; the runtime turns it into
// a QueueFacade.CompleteAttempt call. ExitCode/Stdout/Stderr are
// optional — most job definitions run in-process and have neither.
type Result struct {
	Success  bool
	Timeout  bool
	ExitCode *int
	Stdout   string
	Stderr   string
	Error    string
}

// JobExecutor runs one JobDefinition's work. Each definition key maps
// to exactly one registered executor (spec §4.5: "the worker looks up
// a registered handler by definition key").
type JobExecutor interface {
	// DefinitionKey names the JobDefinition.key this executor handles.
	DefinitionKey() string

	// Execute runs the job. ctx is canceled when the job's timeout
	// elapses or the runtime is shutting down; an executor that doesn't
	// observe ctx.Done() in time is reported back as a timeout by the
	// runtime regardless of what Execute eventually returns.
	Execute(ctx context.Context, exec *Execution) (*Result, error)
}

// SuccessResult is a convenience constructor mirroring
// pkg/task/executor.go's SuccessResult/FailureResult helpers.
func SuccessResult() *Result { return &Result{Success: true} }

// FailureResult builds a failed Result carrying the given error text.
func FailureResult(err string) *Result { return &Result{Success: false, Error: err} }
