package util

import (
	"os"
	"path/filepath"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/mitchellh/go-homedir"
)

// FileExists returns true if the given file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDirectory creates the directory, and its parents, if it does not exist yet.
func EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return errors.New(err)
	}

	return nil
}

// ExpandPath expands a leading `~` and returns the absolute form of the path.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", errors.New(err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.New(err)
	}

	return abs, nil
}
