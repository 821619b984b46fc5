package compiler

import (
	"fmt"
)

// CompileError is returned when a job script cannot be parsed or rewritten.
// It fails the attempt before anything is dispatched to a worker.
type CompileError struct {
	Err   error
	JobID string
}

func (err CompileError) Error() string {
	return fmt.Sprintf("compile job %s: %v", err.JobID, err.Err)
}

func (err CompileError) Unwrap() error {
	return err.Err
}

// AlreadyCompiledError is returned when a script already imports from the adaptor it is compiled against.
type AlreadyCompiledError struct {
	Adaptor string
}

func (err AlreadyCompiledError) Error() string {
	return fmt.Sprintf("script already imports from %s; compile the original job body instead", err.Adaptor)
}
