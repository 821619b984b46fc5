package compiler_test

import (
	"github.com/River-unknown/kit/internal/compiler"
)

// Small ESTree builders so tests read close to the scripts they model.

type node = compiler.Node

func id(name string) *node {
	return compiler.Identifier(name)
}

func list(nodes ...*node) []any {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = n
	}

	return items
}

func program(stmts ...*node) *node {
	return compiler.NewNode("Program", "body", list(stmts...), "sourceType", "script")
}

func exprStmt(expr *node) *node {
	return compiler.NewNode("ExpressionStatement", "expression", expr)
}

func call(callee *node, args ...*node) *node {
	return compiler.NewNode("CallExpression", "callee", callee, "arguments", list(args...), "optional", false)
}

func member(object *node, property *node, computed bool) *node {
	return compiler.NewNode("MemberExpression", "object", object, "property", property, "computed", computed, "optional", false)
}

func dot(root string, path ...string) *node {
	expr := id(root)
	for _, name := range path {
		expr = member(expr, id(name), false)
	}

	return expr
}

func declare(kind string, target *node, init *node) *node {
	var initValue any
	if init != nil {
		initValue = init
	}

	declarator := compiler.NewNode("VariableDeclarator", "id", target, "init", initValue)

	return compiler.NewNode("VariableDeclaration", "declarations", list(declarator), "kind", kind)
}

func block(stmts ...*node) *node {
	return compiler.NewNode("BlockStatement", "body", list(stmts...))
}

func function(name string, params []*node, body ...*node) *node {
	return compiler.NewNode("FunctionDeclaration", "id", id(name), "params", list(params...), "body", block(body...))
}

func arrow(params []*node, body *node) *node {
	return compiler.NewNode("ArrowFunctionExpression", "id", nil, "params", list(params...), "body", body)
}

func ret(arg *node) *node {
	return compiler.NewNode("ReturnStatement", "argument", arg)
}

func binary(left, right *node) *node {
	return compiler.NewNode("BinaryExpression", "left", left, "operator", "+", "right", right)
}

func object(props ...*node) *node {
	return compiler.NewNode("ObjectExpression", "properties", list(props...))
}

func property(key, value *node, computed, shorthand bool) *node {
	return compiler.NewNode("Property", "method", false, "shorthand", shorthand, "computed", computed, "key", key, "value", value, "kind", "init")
}

func objectPattern(props ...*node) *node {
	return compiler.NewNode("ObjectPattern", "properties", list(props...))
}

func arrayPattern(elems ...*node) *node {
	return compiler.NewNode("ArrayPattern", "elements", list(elems...))
}

func str(value string) *node {
	return compiler.StringLiteral(value)
}
