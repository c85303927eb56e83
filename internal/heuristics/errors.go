package heuristics

import "fmt"

// SchemaError reports a transaction that is missing a required field.
// Rows like this should have been dropped by ingestion; reaching the engine
// means the caller skipped validation.
type SchemaError struct {
	Index int
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("transaction %d: missing required field %q", e.Index, e.Field)
}

// InternalConsistencyError is raised when the assembled result breaks one of
// the account/ring invariants. The run is aborted with no partial output.
type InternalConsistencyError struct {
	Reason string
}

func (e *InternalConsistencyError) Error() string {
	return "internal consistency violation: " + e.Reason
}

func inconsistent(format string, args ...any) error {
	return &InternalConsistencyError{Reason: fmt.Sprintf(format, args...)}
}
