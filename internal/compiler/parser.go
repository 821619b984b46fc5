package compiler

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/util"
)

// Parser turns script source into an ESTree Program.
type Parser interface {
	Parse(ctx context.Context, source string) (*Node, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, source string) (*Node, error)

func (fn ParserFunc) Parse(ctx context.Context, source string) (*Node, error) {
	return fn(ctx, source)
}

// ExecParser runs an external command that reads script source on stdin and writes the ESTree
// Program as JSON on stdout, e.g. a small acorn wrapper executed with node.
type ExecParser struct {
	Command string
	Args    []string
	Env     []string
}

// NewExecParser splits command into the executable and its arguments. An unparsable command
// leaves the parser unconfigured.
func NewExecParser(command string) *ExecParser {
	name, args, err := util.SplitCommand(command)
	if err != nil {
		return &ExecParser{}
	}

	return &ExecParser{Command: name, Args: args}
}

// Parse implements Parser.
func (parser *ExecParser) Parse(ctx context.Context, source string) (*Node, error) {
	if parser.Command == "" {
		return nil, errors.Errorf("parser command is not configured")
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, parser.Command, parser.Args...)
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), parser.Env...)

	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("parse script: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return DecodeProgram(stdout.Bytes())
}
