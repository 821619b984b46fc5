package util

import (
	"context"
	"os"
	"os/signal"
)

// RegisterSignalInterceptor registers a signal interceptor from the OS.
func RegisterSignalInterceptor(cancel context.CancelFunc, sigs ...os.Signal) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	go func() {
		<-sigCh
		cancel()
	}()
}
