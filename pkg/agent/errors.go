package agent

import "fmt"

// ToolError reports a tool call whose failure no callback recovered. It
// aborts the run that dispatched the call.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
