// Package protocol implements the worker side of the queue server protocol: the event payloads,
// the request/reply envelope and a persistent websocket channel.
package protocol

import (
	"context"
	"encoding/json"
)

// Channel is a bidirectional connection to the queue server.
type Channel interface {
	// Request sends event and decodes the response of the matching reply into reply (may be nil).
	Request(ctx context.Context, topic, event string, payload, reply any) error
	// Push sends event without waiting for a reply.
	Push(ctx context.Context, topic, event string, payload any) error
	// Close shuts the connection down and fails every pending request.
	Close() error
}

// Claim asks the queue server for up to demand attempts.
func Claim(ctx context.Context, ch Channel, demand int) ([]ClaimedAttempt, error) {
	var reply ClaimReply

	if err := ch.Request(ctx, QueueTopic, EventClaim, ClaimPayload{Demand: demand}, &reply); err != nil {
		return nil, err
	}

	return reply.Attempts, nil
}

// GetAttempt fetches the full body of a claimed attempt.
func GetAttempt(ctx context.Context, ch Channel, attemptID string) (*Attempt, error) {
	attempt := &Attempt{}

	if err := ch.Request(ctx, AttemptTopic(attemptID), EventGetAttempt, GetAttemptPayload{ID: attemptID}, attempt); err != nil {
		return nil, err
	}

	if attempt.ID == "" {
		attempt.ID = attemptID
	}

	return attempt, nil
}

// GetDataclip fetches a dataclip body.
func GetDataclip(ctx context.Context, ch Channel, attemptID, dataclipID string) (json.RawMessage, error) {
	var body json.RawMessage

	if err := ch.Request(ctx, AttemptTopic(attemptID), EventGetDataclip, GetDataclipPayload{ID: dataclipID}, &body); err != nil {
		return nil, err
	}

	return body, nil
}

// GetCredential fetches a credential body.
func GetCredential(ctx context.Context, ch Channel, attemptID, credentialID string) (json.RawMessage, error) {
	var body json.RawMessage

	if err := ch.Request(ctx, AttemptTopic(attemptID), EventGetCredential, GetCredentialPayload{ID: credentialID}, &body); err != nil {
		return nil, err
	}

	return body, nil
}
