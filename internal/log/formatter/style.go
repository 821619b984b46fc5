package formatter

import (
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"
)

// ColorStyle is an ansi style description, e.g. "red+b" or a 256 color code.
type ColorStyle string

const (
	TimestampStyle ColorStyle = "black+h"
	FieldStyle     ColorStyle = "cyan"
)

var levelStyles = map[logrus.Level]ColorStyle{
	logrus.TraceLevel: "white",
	logrus.DebugLevel: "blue+h",
	logrus.InfoLevel:  "green+h",
	logrus.WarnLevel:  "yellow+h",
	logrus.ErrorLevel: "red+h",
	logrus.FatalLevel: "red+b",
	logrus.PanicLevel: "red+b",
}

// prefixStyles contains ANSI color codes that are assigned sequentially to each unique prefix.
// https://www.hackitu.de/termcolor256/
var prefixStyles = []ColorStyle{
	"66", "67", "95", "96", "102", "103", "108", "109", "139", "138", "144", "145",
}

func (style ColorStyle) Colorize(text string) string {
	return ansi.Color(text, string(style))
}

func levelStyle(level logrus.Level) ColorStyle {
	if style, ok := levelStyles[level]; ok {
		return style
	}

	return ""
}

// PrefixStyle hands out a stable color per prefix, so the lines of one attempt are easy to follow.
type PrefixStyle struct {
	cache map[string]ColorStyle
	next  int
}

func NewPrefixStyle() *PrefixStyle {
	return &PrefixStyle{cache: make(map[string]ColorStyle)}
}

func (prefixStyle *PrefixStyle) Style(prefix string) ColorStyle {
	if style, ok := prefixStyle.cache[prefix]; ok {
		return style
	}

	style := prefixStyles[prefixStyle.next%len(prefixStyles)]

	prefixStyle.cache[prefix] = style
	prefixStyle.next++

	return style
}
