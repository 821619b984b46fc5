package autoinstall

import (
	"fmt"
)

// InvalidSpecifierError is returned for adaptor specifiers that are not `name@semver`.
type InvalidSpecifierError struct {
	Specifier string
	Reason    string
}

func (err InvalidSpecifierError) Error() string {
	return fmt.Sprintf("invalid adaptor specifier %q: %s", err.Specifier, err.Reason)
}

// InstallError is returned when an adaptor could not be installed. It fails only the attempts that need Specifier.
type InstallError struct {
	Err       error
	Specifier string
}

func (err InstallError) Error() string {
	return fmt.Sprintf("failed to install adaptor %s: %v", err.Specifier, err.Err)
}

func (err InstallError) Unwrap() error {
	return err.Err
}
