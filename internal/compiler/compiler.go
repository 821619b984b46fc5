// Package compiler turns job scripts into sandbox-ready modules.
//
// Job authors call adaptor functions by their bare names. The compiler finds every free
// identifier of the parsed script with an explicit scope-stack walk, picks the ones the job's
// adaptor provides, and prepends an import statement for them, so the runtime can link the
// script against the installed adaptor without the author writing any import.
package compiler

import (
	"context"

	"github.com/River-unknown/kit/pkg/log"
)

// Compiler parses, rewrites and prints job scripts.
type Compiler struct {
	parser Parser
	logger log.Logger
}

// New creates a compiler using parser to build the AST.
func New(parser Parser, logger log.Logger) *Compiler {
	return &Compiler{parser: parser, logger: logger}
}

// Compile returns the source of the job with the adaptor imports injected.
// Compiling the same source against the same adaptor always yields byte-identical output.
func (compiler *Compiler) Compile(ctx context.Context, jobID, source string, adaptor Adaptor) (string, error) {
	program, err := compiler.parser.Parse(ctx, source)
	if err != nil {
		return "", CompileError{JobID: jobID, Err: err}
	}

	if importsFrom(program, adaptor.Name) {
		return "", CompileError{JobID: jobID, Err: AlreadyCompiledError{Adaptor: adaptor.Name}}
	}

	compiled := InjectAdaptor(program, adaptor, compiler.logger.WithField(log.FieldKeyJob, jobID))

	out, err := Print(compiled, source)
	if err != nil {
		return "", CompileError{JobID: jobID, Err: err}
	}

	return out, nil
}

func importsFrom(program *Node, source string) bool {
	if source == "" {
		return false
	}

	for _, stmt := range program.Children("body") {
		if stmt.Type != "ImportDeclaration" && stmt.Type != "ExportAllDeclaration" {
			continue
		}

		if stmt.Child("source").Str("value") == source {
			return true
		}
	}

	return false
}
