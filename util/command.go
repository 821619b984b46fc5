package util

import (
	"github.com/google/shlex"

	"github.com/River-unknown/kit/internal/errors"
)

// SplitCommand splits a configured command line into the executable and its arguments,
// honoring shell quoting, e.g. `node "my runtime.js"`.
func SplitCommand(command string) (string, []string, error) {
	parts, err := shlex.Split(command)
	if err != nil {
		return "", nil, errors.Errorf("invalid command %q: %w", command, err)
	}

	if len(parts) == 0 {
		return "", nil, nil
	}

	return parts[0], parts[1:], nil
}
