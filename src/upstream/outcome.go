package upstream

import "age-classifier/src/labels"

// Status is the result of a single classification attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is the immutable result of a classification call. It carries a
// label only on success and an error message only on failure.
type Outcome struct {
	status Status
	label  labels.Label
	raw    string
	errMsg string
}

// Success builds a successful Outcome.
func Success(label labels.Label, raw string) Outcome {
	return Outcome{status: StatusSuccess, label: label, raw: raw}
}

// Failure builds a failed Outcome with the given cause.
func Failure(msg string) Outcome {
	return Outcome{status: StatusError, errMsg: msg}
}

func (o Outcome) Status() Status { return o.status }

func (o Outcome) OK() bool { return o.status == StatusSuccess }

// Label returns the label and whether the outcome has one.
func (o Outcome) Label() (labels.Label, bool) {
	return o.label, o.status == StatusSuccess
}

// Raw is the trimmed upstream response body. Empty on failure.
func (o Outcome) Raw() string { return o.raw }

// Err is the failure cause. Empty on success.
func (o Outcome) Err() string { return o.errMsg }
