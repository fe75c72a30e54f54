package executor

import "fmt"

// TransientError marks a failure worth retrying against the same
// environment, such as a slow page or a dropped devtools connection
// that reconnects.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor (transient): %s: %v", e.Reason, e.Err)
	}
	return "executor (transient): " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure the run cannot recover from, such as a
// crashed browser or an unsupported action.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor (fatal): %s: %v", e.Reason, e.Err)
	}
	return "executor (fatal): " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }
