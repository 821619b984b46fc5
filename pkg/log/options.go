package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/River-unknown/kit/internal/log/formatter"
)

const (
	// FormatText prints human readable key=value lines.
	FormatText = "text"
	// FormatJSON prints one JSON object per entry.
	FormatJSON = "json"
	// FormatPretty prints aligned lines, colored when stderr is a terminal.
	FormatPretty = "pretty"
)

type Option func(logger *logger)

func WithLevel(level Level) Option {
	return func(logger *logger) {
		logger.Logger.SetLevel(level.ToLogrusLevel())
	}
}

func WithOutput(output io.Writer) Option {
	return func(logger *logger) {
		logger.Logger.SetOutput(output)
	}
}

func WithFormatter(formatter logrus.Formatter) Option {
	return func(logger *logger) {
		logger.Logger.SetFormatter(formatter)
	}
}

// WithFormat selects one of the built-in formats. Unknown names fall back to FormatText.
func WithFormat(name string) Option {
	switch name {
	case FormatJSON:
		return WithFormatter(&logrus.JSONFormatter{})
	case FormatPretty:
		return WithFormatter(formatter.NewFormatter(!formatter.IsTerminal(os.Stderr)))
	default:
		return WithFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func WithHooks(hooks ...logrus.Hook) Option {
	return func(logger *logger) {
		for _, hook := range hooks {
			logger.Logger.AddHook(hook)
		}
	}
}
