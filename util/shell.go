package util

import (
	"os/exec"

	"github.com/urfave/cli/v2"

	"github.com/River-unknown/kit/internal/errors"
)

// GetExitCode returns the exit code carried by err. If the error does not
// implement ExitStatus, is not a cli.ExitCoder, an exec.ExitError
// or an *errors.MultiError wrapping one of those, the error is returned.
func GetExitCode(err error) (int, error) {
	var exitStatus interface {
		ExitStatus() (int, error)
	}

	if errors.As(err, &exitStatus) {
		return exitStatus.ExitStatus()
	}

	var exitCoder cli.ExitCoder

	if errors.As(err, &exitCoder) {
		return exitCoder.ExitCode(), nil
	}

	var exiterr *exec.ExitError
	if ok := errors.As(err, &exiterr); ok {
		return exiterr.ExitCode(), nil
	}

	var multiErr *errors.MultiError
	if ok := errors.As(err, &multiErr); ok {
		for _, err := range multiErr.WrappedErrors() {
			exitCode, exitCodeErr := GetExitCode(err)
			if exitCodeErr == nil {
				return exitCode, nil
			}
		}
	}

	return 0, err
}
