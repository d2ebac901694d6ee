package orchestrator

// Status is the final outcome of one dataset.
type Status int

const (
	Succeeded Status = iota
	Failed
)

// String returns the report spelling of the status.
func (s Status) String() string {
	if s == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// DatasetResult is one dataset's entry in the run report. FailingTaskID
// names the originating task for execution failures; it is empty when the
// graph never got built (configuration errors have no task).
type DatasetResult struct {
	Status        Status
	FailingTaskID string
	Err           error
}

// Report is the engine's sole externally consumed output besides the
// artifacts the task bodies write: one entry per dataset in the batch.
type Report struct {
	RunID   string
	Results map[string]DatasetResult
}

// Succeeded reports whether every dataset in the batch succeeded. The
// process exit code is derived from this.
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != Succeeded {
			return false
		}
	}
	return true
}
