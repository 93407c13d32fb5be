package domain

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultRetry   ResultStatus = "retry"
	ResultFailure ResultStatus = "failure"
)

// Result is what a task hands back to the scheduler. Output carries the raw
// manifest JSON for manifest tasks so the caller does not re-read the store.
type Result struct {
	Status ResultStatus
	Err    error
	Output string
}

func Success(output string) Result { return Result{Status: ResultSuccess, Output: output} }
func Retry(err error) Result       { return Result{Status: ResultRetry, Err: err} }
func Failure(err error) Result     { return Result{Status: ResultFailure, Err: err} }

func (r Result) OK() bool { return r.Status == ResultSuccess }
