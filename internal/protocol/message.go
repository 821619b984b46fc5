package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/River-unknown/kit/internal/errors"
)

// Reply statuses.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Message is the envelope of every frame on the queue connection.
// Requests carry a ref; the queue server answers with a "reply" message carrying the same ref.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReplyPayload is the payload of a "reply" message.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// NewMessage encodes payload into a message envelope.
func NewMessage(topic, event, ref string, payload any) (*Message, error) {
	msg := &Message{Topic: topic, Event: event, Ref: ref}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Errorf("encode %s payload: %w", event, err)
		}

		msg.Payload = data
	}

	return msg, nil
}

// NewReply builds the reply to msg. Used by queue server fakes.
func NewReply(msg *Message, status string, response any) (*Message, error) {
	var raw json.RawMessage

	if response != nil {
		data, err := json.Marshal(response)
		if err != nil {
			return nil, errors.New(err)
		}

		raw = data
	}

	return NewMessage(msg.Topic, eventReply, msg.Ref, ReplyPayload{Status: status, Response: raw})
}

// DecodeMessage parses a frame, rejecting frames without an event.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message

	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ProtocolError{Err: fmt.Errorf("malformed frame: %w", err)}
	}

	if msg.Event == "" {
		return nil, ProtocolError{Err: errors.Errorf("frame without event")}
	}

	return &msg, nil
}

// IsReply reports whether msg answers an earlier request.
func (msg *Message) IsReply() bool {
	return msg.Event == eventReply
}

// Decode unmarshals the message payload into v.
func (msg *Message) Decode(v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}

	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return ProtocolError{Event: msg.Event, Err: err}
	}

	return nil
}
