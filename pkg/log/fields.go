package log

// Field keys attached by the worker components.
const (
	FieldKeyAttempt   = "attempt"
	FieldKeyRun       = "run"
	FieldKeyJob       = "job"
	FieldKeySpecifier = "specifier"
	FieldKeyWorker    = "worker"
	FieldKeyPrefix    = "prefix"
)

// Fields type, used to pass to `WithFields`.
type Fields map[string]any
