package tool

import "fmt"

// Result is the immutable outcome of one tool execution: either a success
// carrying output or a failure carrying an error message. Recover returns
// a new success value; the original is never mutated, which keeps the
// error-to-success transition auditable.
type Result struct {
	output  string
	message string
	failed  bool
}

// Success builds a successful result.
func Success(output string) Result {
	return Result{output: output}
}

// Failure builds a failed result.
func Failure(message string) Result {
	return Result{message: message, failed: true}
}

// Failuref builds a failed result from a format string.
func Failuref(format string, args ...interface{}) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// FromError captures an execution error into a failed result.
func FromError(err error) Result {
	return Failure(err.Error())
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool { return r.failed }

// Output returns the success output. Empty for failed results.
func (r Result) Output() string { return r.output }

// ErrorMessage returns the failure message. Empty for successful results.
func (r Result) ErrorMessage() string { return r.message }

// Recover returns a successful result with the given text as its output.
// The transition is one-way: the original error message is not observable
// on the returned value.
func (r Result) Recover(text string) Result {
	return Result{output: text}
}
