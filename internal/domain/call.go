package domain

// CallRequest is one prefab invocation inside a run request. Immutable
// once accepted; the pipeline copies inputs before rewriting file
// references.
type CallRequest struct {
	PrefabID string         `json:"prefab_id"`
	Version  string         `json:"version"`
	Function string         `json:"function_name"`
	Inputs   map[string]any `json:"inputs"`
}

type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallFailed  CallStatus = "FAILED"
)

// ErrorKind is the caller-visible error category for a failed call.
type ErrorKind string

const (
	KindUnauthenticated  ErrorKind = "UNAUTHENTICATED"
	KindPermissionDenied ErrorKind = "PERMISSION_DENIED"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindBadRequest       ErrorKind = "BAD_REQUEST"
	KindUnavailable      ErrorKind = "SERVICE_UNAVAILABLE"
	KindServiceNotFound  ErrorKind = "SERVICE_NOT_FOUND"
	KindInternal         ErrorKind = "INTERNAL_ERROR"
)

type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type CallResult struct {
	Status CallStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  *CallError     `json:"error,omitempty"`
}

type JobStatus string

const (
	JobCompleted JobStatus = "COMPLETED"
	JobPartial   JobStatus = "PARTIAL"
	JobFailed    JobStatus = "FAILED"
)

// Job is the envelope for one run request. Results are ordered to match
// the request's call list; under the abort policy the list stops at the
// failing call.
type Job struct {
	JobID   string       `json:"job_id"`
	Status  JobStatus    `json:"status"`
	Results []CallResult `json:"results"`
}
