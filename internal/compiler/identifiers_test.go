package compiler_test

import (
	"testing"

	"github.com/River-unknown/kit/internal/compiler"
	"github.com/stretchr/testify/assert"
)

func TestFindFreeIdentifiers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		program  *node
		expected []string
	}{
		{
			name:     "bare call",
			program:  program(exprStmt(call(id("fn")))),
			expected: []string{"fn"},
		},
		{
			// a.b.c
			name:     "member chain reports only the root",
			program:  program(exprStmt(dot("a", "b", "c"))),
			expected: []string{"a"},
		},
		{
			// const a = 1; a.b.c
			name:     "member chain with declared root",
			program:  program(declare("const", id("a"), str("x")), exprStmt(dot("a", "b", "c"))),
			expected: []string{},
		},
		{
			// obj[key].value
			name:     "computed member property is a reference",
			program:  program(exprStmt(member(member(id("obj"), id("key"), true), id("value"), false))),
			expected: []string{"obj", "key"},
		},
		{
			// ({ key: value })
			name:     "object literal keys are not references",
			program:  program(exprStmt(object(property(id("key"), id("value"), false, false)))),
			expected: []string{"value"},
		},
		{
			// ({ [name]: value })
			name:     "computed object keys are references",
			program:  program(exprStmt(object(property(id("name"), id("value"), true, false)))),
			expected: []string{"name", "value"},
		},
		{
			// ({ data })
			name:     "shorthand property value is a reference",
			program:  program(exprStmt(object(property(id("data"), id("data"), false, true)))),
			expected: []string{"data"},
		},
		{
			// function f(p) { var q; return p + q + r }
			name: "parameters and locals are declared",
			program: program(function("f", []*node{id("p")},
				declare("var", id("q"), nil),
				ret(binary(binary(id("p"), id("q")), id("r"))),
			)),
			expected: []string{"r"},
		},
		{
			// const outer = 1; function f() { return () => outer + inner }
			name: "lookup walks the whole scope chain",
			program: program(
				declare("const", id("outer"), str("x")),
				function("f", nil, ret(arrow(nil, binary(id("outer"), id("inner"))))),
			),
			expected: []string{"inner"},
		},
		{
			// g(); function g() {}
			name:     "function declarations are hoisted",
			program:  program(exprStmt(call(id("g"))), function("g", nil)),
			expected: []string{},
		},
		{
			// { let y = 1 } y
			name:     "block scoped bindings do not leak",
			program:  program(block(declare("let", id("y"), str("x"))), exprStmt(id("y"))),
			expected: []string{"y"},
		},
		{
			// if (x) { var v = 1 } v
			name: "var is hoisted out of blocks",
			program: program(
				compiler.NewNode("IfStatement", "test", id("x"), "consequent", block(declare("var", id("v"), str("x"))), "alternate", nil),
				exprStmt(id("v")),
			),
			expected: []string{"x"},
		},
		{
			// const { a, b: [c], ...rest } = src; a; c; rest
			name: "destructuring declares every bound name",
			program: program(
				declare("const", objectPattern(
					property(id("a"), id("a"), false, true),
					property(id("b"), arrayPattern(id("c")), false, false),
					compiler.NewNode("RestElement", "argument", id("rest")),
				), id("src")),
				exprStmt(id("a")), exprStmt(id("c")), exprStmt(id("rest")),
			),
			expected: []string{"src"},
		},
		{
			// try { risky() } catch (err) { report(err) }
			name: "catch parameter is declared in the handler",
			program: program(compiler.NewNode("TryStatement",
				"block", block(exprStmt(call(id("risky")))),
				"handler", compiler.NewNode("CatchClause", "param", id("err"), "body", block(exprStmt(call(id("report"), id("err"))))),
				"finalizer", nil,
			)),
			expected: []string{"risky", "report"},
		},
		{
			// function f() { return arguments }
			name:     "arguments is implicit in functions",
			program:  program(function("f", nil, ret(id("arguments")))),
			expected: []string{},
		},
		{
			// b(); a(); b()
			name:     "first seen order",
			program:  program(exprStmt(call(id("b"))), exprStmt(call(id("a"))), exprStmt(call(id("b")))),
			expected: []string{"b", "a"},
		},
		{
			// total = count + 1
			name: "assignment targets are references",
			program: program(exprStmt(compiler.NewNode("AssignmentExpression",
				"operator", "=", "left", id("total"), "right", binary(id("count"), str("1"))))),
			expected: []string{"total", "count"},
		},
		{
			// outer: for (;;) { break outer }
			name: "labels are not references",
			program: program(compiler.NewNode("LabeledStatement", "label", id("outer"), "body",
				compiler.NewNode("ForStatement", "init", nil, "test", nil, "update", nil,
					"body", block(compiler.NewNode("BreakStatement", "label", id("outer")))))),
			expected: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			free := compiler.FindFreeIdentifiers(tc.program)
			assert.Equal(t, tc.expected, nonNil(free.Names()))
		})
	}
}

func TestFindFreeIdentifiersIsDeterministic(t *testing.T) {
	t.Parallel()

	prog := program(
		exprStmt(call(id("each"), dot("state", "data", "items"), arrow([]*node{id("item")}, call(id("post"), id("item"))))),
		exprStmt(call(id("fn"), object(property(id("url"), id("baseUrl"), false, false)))),
	)

	first := compiler.FindFreeIdentifiers(prog).Names()

	for range 20 {
		assert.Equal(t, first, compiler.FindFreeIdentifiers(prog).Names())
	}

	assert.Equal(t, []string{"each", "state", "post", "fn", "baseUrl"}, first)
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}

	return names
}
