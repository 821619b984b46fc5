package formatter_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/log/formatter"
)

func format(t *testing.T, f *formatter.Formatter, entry *logrus.Entry) string {
	t.Helper()

	out, err := f.Format(entry)
	require.NoError(t, err)

	return string(out)
}

func TestFormatPlain(t *testing.T) {
	t.Parallel()

	f := formatter.NewFormatter(true)

	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "Retrying install",
		Data: logrus.Fields{
			"attempt":   "a-1",
			"specifier": "@kit/common@1.0.0",
			"reason":    "network down",
		},
	}

	assert.Equal(t, "03:04:05.006 WARN   [a-1] Retrying install reason=\"network down\" specifier=@kit/common@1.0.0\n", format(t, f, entry))
}

func TestFormatWithoutPrefix(t *testing.T) {
	t.Parallel()

	f := formatter.NewFormatter(true)
	f.TimestampFormat = ""
	f.DisableUppercase = true

	entry := &logrus.Entry{Level: logrus.InfoLevel, Message: "Worker stopped", Data: logrus.Fields{"empty": ""}}

	assert.Equal(t, "info   Worker stopped empty=\"\"\n", format(t, f, entry))
}

func TestFormatColors(t *testing.T) {
	t.Parallel()

	f := formatter.NewFormatter(false)

	first := format(t, f, &logrus.Entry{Level: logrus.InfoLevel, Message: "one", Data: logrus.Fields{"attempt": "a-1"}})
	second := format(t, f, &logrus.Entry{Level: logrus.InfoLevel, Message: "two", Data: logrus.Fields{"attempt": "a-2"}})

	assert.Contains(t, first, "\x1b[")
	assert.Contains(t, first, formatter.ColorStyle("66").Colorize("[a-1] "))
	assert.Contains(t, second, formatter.ColorStyle("67").Colorize("[a-2] "))
}

func TestPrefixStyleIsStable(t *testing.T) {
	t.Parallel()

	style := formatter.NewPrefixStyle()

	assert.Equal(t, style.Style("a"), style.Style("a"))
	assert.NotEqual(t, style.Style("a"), style.Style("b"))
}
