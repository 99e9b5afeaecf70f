package errors

// Numeric error codes, grouped by the error kinds named in the
// component design. Adding a kind requires a code here and a branch
// wherever callers switch on it — no implicit fallthrough.
const (
	CodeValidation         int = 4001
	CodeDedupConflict      int = 4002
	CodeNotFound           int = 4004
	CodeDefinitionInactive int = 4005
	CodeLeaseLost          int = 4016
	CodeInvalidArgument    int = 4017

	CodeInternal       int = 5000
	CodeStoreError     int = 5001
	CodeTransientStore int = 5002

	CodeWorkerUnavailable int = 6001

	CodeInitializeError int = 7001
	CodeLackOfConfig    int = 7002
)
