package log

import "strings"

// Writer redirects Write requests to configured logger and level.
// Trailing newlines are trimmed so line-oriented producers do not emit blank entries.
type Writer struct {
	Logger Logger
	Level  Level
}

func (w *Writer) Write(p []byte) (n int, err error) {
	if msg := strings.TrimRight(string(p), "\r\n"); msg != "" {
		w.Logger.Log(w.Level, msg)
	}

	return len(p), nil
}
