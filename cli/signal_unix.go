//go:build !windows

package cli

import "syscall"

func init() {
	shutdownSignals = append(shutdownSignals, syscall.SIGTERM)
}
