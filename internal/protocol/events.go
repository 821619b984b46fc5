package protocol

import (
	"encoding/json"
)

// Events exchanged with the queue server.
const (
	EventClaim           = "claim"
	EventGetAttempt      = "fetch:attempt"
	EventAttemptStart    = "attempt-start"
	EventGetDataclip     = "get-dataclip"
	EventGetCredential   = "get-credential"
	EventRunStart        = "run-start"
	EventRunComplete     = "run-complete"
	EventAttemptLog      = "attempt:log"
	EventAttemptComplete = "attempt-complete"

	// EventAbort is pushed by the queue server to cancel an in-flight attempt.
	EventAbort = "attempt:abort"

	eventReply = "reply"
)

// QueueTopic is the topic claims are sent on. Attempt scoped events use AttemptTopic.
const QueueTopic = "worker:queue"

// AttemptTopic returns the topic of the given attempt.
func AttemptTopic(attemptID string) string {
	return "attempt:" + attemptID
}

// Attempt is the full attempt body returned by fetch:attempt.
type Attempt struct {
	ID         string         `json:"id"`
	DataclipID string         `json:"dataclip_id,omitempty"`
	Jobs       []Job          `json:"jobs"`
	Options    map[string]any `json:"options,omitempty"`
}

// Job is one script of an attempt bound to at most one adaptor.
type Job struct {
	ID         string `json:"id"`
	Adaptor    string `json:"adaptor,omitempty"`
	Body       string `json:"body"`
	Credential string `json:"credential,omitempty"`
}

// ClaimedAttempt is the claim reply for a single attempt.
type ClaimedAttempt struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type ClaimPayload struct {
	Demand int `json:"demand"`
}

type ClaimReply struct {
	Attempts []ClaimedAttempt `json:"attempts"`
}

type GetAttemptPayload struct {
	ID string `json:"id"`
}

type AttemptStartPayload struct {
	AttemptID string `json:"attempt_id"`
}

type GetDataclipPayload struct {
	ID string `json:"id"`
}

type GetCredentialPayload struct {
	ID string `json:"id"`
}

type RunStartPayload struct {
	AttemptID string `json:"attempt_id"`
	JobID     string `json:"job_id"`
	RunID     string `json:"run_id"`
	Timestamp int64  `json:"timestamp"`
}

type RunCompletePayload struct {
	AttemptID        string          `json:"attempt_id"`
	JobID            string          `json:"job_id"`
	RunID            string          `json:"run_id"`
	OutputDataclipID string          `json:"output_dataclip_id,omitempty"`
	OutputDataclip   json.RawMessage `json:"output_dataclip,omitempty"`
	Error            *ErrorReport    `json:"error,omitempty"`
	Timestamp        int64           `json:"timestamp"`
}

type LogPayload struct {
	AttemptID string   `json:"attempt_id"`
	RunID     string   `json:"run_id,omitempty"`
	Level     string   `json:"level"`
	Message   []string `json:"message"`
	Timestamp int64    `json:"timestamp"`
}

// Terminal attempt statuses carried by attempt-complete.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

type AttemptCompletePayload struct {
	AttemptID       string       `json:"attempt_id"`
	Status          string       `json:"status"`
	FinalDataclipID string       `json:"final_dataclip_id,omitempty"`
	Error           *ErrorReport `json:"error,omitempty"`
}

type AbortPayload struct {
	AttemptID string `json:"attempt_id"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorReport describes an error raised while running an attempt.
type ErrorReport struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}
