// Package formatter renders log entries for humans watching a worker in a terminal.
package formatter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimestampFormat = "15:04:05.000"

	// PrefixKeyName is rendered in brackets in front of the message, colored per distinct value.
	PrefixKeyName = "attempt"
)

var _ logrus.Formatter = new(Formatter)

type Formatter struct {
	prefixStyle *PrefixStyle

	// Timestamp format, no timestamp is printed when empty.
	TimestampFormat string

	// Force disabling colors. For a TTY colors are enabled by default.
	DisableColors bool

	// Disable the conversion of the log levels to uppercase
	DisableUppercase bool

	mu sync.Mutex
}

// NewFormatter returns a new Formatter instance with default values.
func NewFormatter(disableColors bool) *Formatter {
	return &Formatter{
		DisableColors:   disableColors,
		TimestampFormat: defaultTimestampFormat,
		prefixStyle:     NewPrefixStyle(),
	}
}

// Format implements logrus.Formatter
func (formatter *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = new(bytes.Buffer)
	}

	level := fmt.Sprintf("%-6s ", formatter.levelText(entry.Level))

	var prefix string
	if val, ok := entry.Data[PrefixKeyName].(string); ok && val != "" {
		prefix = "[" + val + "] "
	}

	var timestamp string
	if formatter.TimestampFormat != "" {
		timestamp = entry.Time.Format(formatter.TimestampFormat) + " "
	}

	if !formatter.DisableColors {
		level = levelStyle(entry.Level).Colorize(level)
		timestamp = TimestampStyle.Colorize(timestamp)

		if prefix != "" {
			formatter.mu.Lock()
			prefix = formatter.prefixStyle.Style(prefix).Colorize(prefix)
			formatter.mu.Unlock()
		}
	}

	buf.WriteString(timestamp)
	buf.WriteString(level)
	buf.WriteString(prefix)
	buf.WriteString(entry.Message)

	for _, key := range formatter.keys(entry.Data) {
		formatter.appendKeyValue(buf, key, entry.Data[key])
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func (formatter *Formatter) appendKeyValue(buf *bytes.Buffer, key string, value any) {
	if !formatter.DisableColors {
		key = FieldStyle.Colorize(key)
	}

	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')

	var str string

	switch value := value.(type) {
	case string:
		str = value
	case error:
		str = value.Error()
	default:
		str = fmt.Sprint(value)
	}

	if needsQuoting(str) {
		str = fmt.Sprintf("%q", str)
	}

	buf.WriteString(str)
}

func (formatter *Formatter) levelText(level logrus.Level) string {
	levelText := level.String()
	if level == logrus.WarnLevel {
		levelText = "warn"
	}

	if !formatter.DisableUppercase {
		return strings.ToUpper(levelText)
	}

	return levelText
}

// keys returns the sorted field keys, without the prefix.
func (formatter *Formatter) keys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))

	for key := range data {
		if key != PrefixKeyName {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys
}

func needsQuoting(text string) bool {
	if text == "" {
		return true
	}

	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == ':' || ch == '/' || ch == '@') {
			return true
		}
	}

	return false
}
