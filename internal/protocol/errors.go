package protocol

import (
	"fmt"
)

// ProtocolError is returned for malformed or unexpected queue messages and for lost connections.
// It is logged and retried at the connection level; it never fails other attempts.
type ProtocolError struct {
	Err   error
	Event string
}

func (err ProtocolError) Error() string {
	if err.Event == "" {
		return fmt.Sprintf("protocol error: %v", err.Err)
	}

	return fmt.Sprintf("protocol error on %s: %v", err.Event, err.Err)
}

func (err ProtocolError) Unwrap() error {
	return err.Err
}

// RequestRejectedError is returned when the queue server answers a request with an error reply.
type RequestRejectedError struct {
	Event    string
	Response string
}

func (err RequestRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by queue server: %s", err.Event, err.Response)
}

// ConnectionClosedError is returned for requests on a closed channel.
type ConnectionClosedError struct{}

func (err ConnectionClosedError) Error() string {
	return "queue connection closed"
}
