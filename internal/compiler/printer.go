package compiler

import (
	"strings"

	"github.com/River-unknown/kit/internal/errors"
)

// Print renders a compiled program back to script source.
//
// The compiler only ever prepends synthesized statements, so those are rendered one per line and
// followed by the original source verbatim, which keeps comments and formatting of the job intact.
func Print(program *Node, source string) (string, error) {
	if program == nil {
		return "", errors.Errorf("print: nil program")
	}

	var (
		out  strings.Builder
		body = program.Children("body")
		i    int
	)

	for ; i < len(body); i++ {
		if _, _, ok := body[i].Range(); ok {
			break
		}

		line, err := printStatement(body[i])
		if err != nil {
			return "", err
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}

	for _, stmt := range body[i:] {
		if _, _, ok := stmt.Range(); !ok {
			return "", errors.Errorf("print: synthesized %s after source statements", stmt.Type)
		}
	}

	out.WriteString(source)

	return out.String(), nil
}

func printStatement(node *Node) (string, error) {
	switch node.Type {
	case "ImportDeclaration":
		return printImport(node)
	case "ExportAllDeclaration":
		source := node.Child("source")
		if source == nil {
			return "", errors.Errorf("print: export without source")
		}

		if exported := node.Child("exported"); exported != nil {
			return "export * as " + exported.Name() + " from " + quote(source.Str("value")) + ";", nil
		}

		return "export * from " + quote(source.Str("value")) + ";", nil
	}

	return "", errors.Errorf("print: unsupported synthesized statement %s", node.Type)
}

func printImport(node *Node) (string, error) {
	source := node.Child("source")
	if source == nil {
		return "", errors.Errorf("print: import without source")
	}

	var (
		clauses []string
		named   []string
	)

	for _, spec := range node.Children("specifiers") {
		local := spec.Child("local").Name()

		switch spec.Type {
		case "ImportDefaultSpecifier":
			clauses = append(clauses, local)
		case "ImportNamespaceSpecifier":
			clauses = append(clauses, "* as "+local)
		case "ImportSpecifier":
			imported := spec.Child("imported").Name()
			if imported == local {
				named = append(named, local)
			} else {
				named = append(named, imported+" as "+local)
			}
		default:
			return "", errors.Errorf("print: unsupported import specifier %s", spec.Type)
		}
	}

	if len(named) > 0 {
		clauses = append(clauses, "{ "+strings.Join(named, ", ")+" }")
	}

	if len(clauses) == 0 {
		return "import " + quote(source.Str("value")) + ";", nil
	}

	return "import " + strings.Join(clauses, ", ") + " from " + quote(source.Str("value")) + ";", nil
}
