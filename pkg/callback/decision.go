package callback

// Decision is the outcome of a BeforeToolCall hook. The zero value
// proceeds, so hooks that take no position can return Decision{}.
type Decision struct {
	action action
	reason string
	err    error
}

type action int

const (
	actionProceed action = iota
	actionSkip
	actionAbort
)

// Proceed lets the tool execute.
func Proceed() Decision {
	return Decision{}
}

// Skip bypasses this one tool call with a reason. Not an error: the call
// yields a benign result and the run continues.
func Skip(reason string) Decision {
	return Decision{action: actionSkip, reason: reason}
}

// Abort stops the whole run with the given error.
func Abort(err error) Decision {
	return Decision{action: actionAbort, err: err}
}

// Proceeds reports whether the tool should execute.
func (d Decision) Proceeds() bool { return d.action == actionProceed }

// Skipped reports whether this call was skipped.
func (d Decision) Skipped() bool { return d.action == actionSkip }

// Aborted reports whether the run should stop.
func (d Decision) Aborted() bool { return d.action == actionAbort }

// Reason returns the skip reason.
func (d Decision) Reason() string { return d.reason }

// Err returns the abort error.
func (d Decision) Err() error { return d.err }
