package compiler

// IdentifierSet is an immutable, insertion ordered set of identifier names.
type IdentifierSet struct {
	index map[string]struct{}
	names []string
}

// Has reports whether name is in the set.
func (set IdentifierSet) Has(name string) bool {
	_, ok := set.index[name]
	return ok
}

// Names returns the names in first-seen order.
func (set IdentifierSet) Names() []string {
	names := make([]string, len(set.names))
	copy(names, set.names)

	return names
}

// Len returns the number of names in the set.
func (set IdentifierSet) Len() int {
	return len(set.names)
}

func (set *IdentifierSet) add(name string) {
	if set.index == nil {
		set.index = make(map[string]struct{})
	}

	if _, ok := set.index[name]; ok {
		return
	}

	set.index[name] = struct{}{}
	set.names = append(set.names, name)
}

type scope struct {
	parent *scope
	names  map[string]struct{}
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]struct{})}
}

func (s *scope) declare(name string) {
	if name != "" {
		s.names[name] = struct{}{}
	}
}

// declares walks the scope chain outward from s.
func (s *scope) declares(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if _, ok := cur.names[name]; ok {
			return true
		}
	}

	return false
}

// FindFreeIdentifiers returns every identifier referenced in node that is not declared in the
// scope of its use or any enclosing scope. Non-root members of a member chain (`b` and `c` in
// `a.b.c`), non-computed property keys, labels and import/export aliases are never references.
func FindFreeIdentifiers(node *Node) IdentifierSet {
	walker := &identifierWalker{}

	if node == nil {
		return walker.free
	}

	if node.Type == "Program" {
		walker.program(node)
	} else {
		walker.walk(node, newScope(nil))
	}

	return walker.free
}

type identifierWalker struct {
	free IdentifierSet
}

func (w *identifierWalker) reference(name string, s *scope) {
	if name != "" && !s.declares(name) {
		w.free.add(name)
	}
}

func (w *identifierWalker) program(node *Node) {
	s := newScope(nil)
	body := node.Children("body")

	hoistVars(body, s)
	declareLexical(body, s)

	for _, stmt := range body {
		w.walk(stmt, s)
	}
}

func (w *identifierWalker) walk(node *Node, s *scope) {
	if node == nil {
		return
	}

	switch node.Type {
	case "Identifier":
		w.reference(node.Name(), s)

	case "FunctionDeclaration", "FunctionExpression", "ArrowFunctionExpression":
		w.function(node, s)

	case "ClassDeclaration", "ClassExpression":
		inner := newScope(s)
		if id := node.Child("id"); id != nil {
			inner.declare(id.Name())
		}

		w.walk(node.Child("superClass"), inner)
		w.walk(node.Child("body"), inner)

	case "BlockStatement", "StaticBlock":
		inner := newScope(s)
		body := node.Children("body")
		declareLexical(body, inner)

		for _, stmt := range body {
			w.walk(stmt, inner)
		}

	case "ForStatement", "ForInStatement", "ForOfStatement":
		inner := newScope(s)

		for _, key := range []string{"init", "left"} {
			if decl := node.Child(key); decl != nil && decl.Type == "VariableDeclaration" && decl.Str("kind") != "var" {
				declareLexical([]*Node{decl}, inner)
			}
		}

		if left := node.Child("left"); left != nil && left.Type != "VariableDeclaration" {
			w.pattern(left, inner, false)
		} else {
			w.walk(left, inner)
		}

		for _, key := range []string{"init", "test", "update", "right", "body"} {
			w.walk(node.Child(key), inner)
		}

	case "SwitchStatement":
		w.walk(node.Child("discriminant"), s)

		inner := newScope(s)
		cases := node.Children("cases")

		for _, c := range cases {
			declareLexical(c.Children("consequent"), inner)
		}

		for _, c := range cases {
			w.walk(c.Child("test"), inner)

			for _, stmt := range c.Children("consequent") {
				w.walk(stmt, inner)
			}
		}

	case "CatchClause":
		inner := newScope(s)
		if param := node.Child("param"); param != nil {
			declarePattern(param, inner)
			w.pattern(param, inner, true)
		}

		w.walk(node.Child("body"), inner)

	case "VariableDeclarator":
		w.pattern(node.Child("id"), s, true)
		w.walk(node.Child("init"), s)

	case "AssignmentExpression":
		w.pattern(node.Child("left"), s, false)
		w.walk(node.Child("right"), s)

	case "MemberExpression":
		w.walk(node.Child("object"), s)

		if node.Bool("computed") {
			w.walk(node.Child("property"), s)
		}

	case "Property", "MethodDefinition", "PropertyDefinition":
		if node.Bool("computed") {
			w.walk(node.Child("key"), s)
		}

		w.walk(node.Child("value"), s)

	case "LabeledStatement":
		w.walk(node.Child("body"), s)

	case "BreakStatement", "ContinueStatement", "MetaProperty", "ImportDeclaration", "ExportAllDeclaration":
		// labels, `new.target`/`import.meta` and import bindings are not references

	case "ExportNamedDeclaration":
		w.walk(node.Child("declaration"), s)

		if node.Child("source") == nil {
			for _, spec := range node.Children("specifiers") {
				if local := spec.Child("local"); local != nil && local.Type == "Identifier" {
					w.reference(local.Name(), s)
				}
			}
		}

	default:
		w.children(node, s)
	}
}

// function walks a function with its own scope holding the function expression name, the
// parameters and the hoisted declarations of its body.
func (w *identifierWalker) function(node *Node, s *scope) {
	inner := newScope(s)

	if node.Type != "ArrowFunctionExpression" {
		inner.declare("arguments")
	}

	if node.Type == "FunctionExpression" {
		if id := node.Child("id"); id != nil {
			inner.declare(id.Name())
		}
	}

	params := node.Children("params")
	for _, param := range params {
		declarePattern(param, inner)
	}

	body := node.Child("body")
	if body != nil && body.Type == "BlockStatement" {
		stmts := body.Children("body")
		hoistVars(stmts, inner)
		declareLexical(stmts, inner)
	}

	for _, param := range params {
		w.pattern(param, inner, true)
	}

	if body != nil && body.Type == "BlockStatement" {
		for _, stmt := range body.Children("body") {
			w.walk(stmt, inner)
		}

		return
	}

	w.walk(body, inner)
}

// pattern walks a destructuring target. In binding position (declarations, parameters) the
// bound identifiers are not references; in assignment position they are.
func (w *identifierWalker) pattern(node *Node, s *scope, binding bool) {
	if node == nil {
		return
	}

	switch node.Type {
	case "Identifier":
		if !binding {
			w.reference(node.Name(), s)
		}
	case "ObjectPattern":
		for _, prop := range node.Children("properties") {
			if prop.Type == "RestElement" {
				w.pattern(prop.Child("argument"), s, binding)
				continue
			}

			if prop.Bool("computed") {
				w.walk(prop.Child("key"), s)
			}

			w.pattern(prop.Child("value"), s, binding)
		}
	case "ArrayPattern":
		for _, elem := range node.Children("elements") {
			w.pattern(elem, s, binding)
		}
	case "RestElement":
		w.pattern(node.Child("argument"), s, binding)
	case "AssignmentPattern":
		w.pattern(node.Child("left"), s, binding)
		w.walk(node.Child("right"), s)
	default:
		// member expressions and other assignment targets
		w.walk(node, s)
	}
}

func (w *identifierWalker) children(node *Node, s *scope) {
	for _, f := range node.fields {
		switch value := f.value.(type) {
		case *Node:
			w.walk(value, s)
		case []any:
			for _, item := range value {
				if child, ok := item.(*Node); ok {
					w.walk(child, s)
				}
			}
		}
	}
}

// hoistVars declares every `var` binding and function declaration reachable from stmts
// without crossing into a nested function.
func hoistVars(stmts []*Node, s *scope) {
	for _, stmt := range stmts {
		hoistNode(stmt, s)
	}
}

func hoistNode(node *Node, s *scope) {
	if node == nil || isClass(node) {
		return
	}

	if isFunction(node) {
		if node.Type == "FunctionDeclaration" {
			if id := node.Child("id"); id != nil {
				s.declare(id.Name())
			}
		}

		return
	}

	if node.Type == "VariableDeclaration" && node.Str("kind") == "var" {
		for _, decl := range node.Children("declarations") {
			declarePattern(decl.Child("id"), s)
		}
	}

	for _, f := range node.fields {
		switch value := f.value.(type) {
		case *Node:
			hoistNode(value, s)
		case []any:
			for _, item := range value {
				if child, ok := item.(*Node); ok {
					hoistNode(child, s)
				}
			}
		}
	}
}

// declareLexical declares the block scoped bindings introduced directly by stmts.
func declareLexical(stmts []*Node, s *scope) {
	for _, stmt := range stmts {
		decl := stmt

		if stmt.Type == "ExportNamedDeclaration" || stmt.Type == "ExportDefaultDeclaration" {
			if decl = stmt.Child("declaration"); decl == nil {
				continue
			}
		}

		switch decl.Type {
		case "VariableDeclaration":
			for _, d := range decl.Children("declarations") {
				declarePattern(d.Child("id"), s)
			}
		case "FunctionDeclaration", "ClassDeclaration":
			if id := decl.Child("id"); id != nil {
				s.declare(id.Name())
			}
		case "ImportDeclaration":
			for _, spec := range decl.Children("specifiers") {
				if local := spec.Child("local"); local != nil {
					s.declare(local.Name())
				}
			}
		}
	}
}

// declarePattern declares every identifier bound by a binding pattern.
func declarePattern(node *Node, s *scope) {
	if node == nil {
		return
	}

	switch node.Type {
	case "Identifier":
		s.declare(node.Name())
	case "ObjectPattern":
		for _, prop := range node.Children("properties") {
			if prop.Type == "RestElement" {
				declarePattern(prop.Child("argument"), s)
				continue
			}

			declarePattern(prop.Child("value"), s)
		}
	case "ArrayPattern":
		for _, elem := range node.Children("elements") {
			declarePattern(elem, s)
		}
	case "RestElement":
		declarePattern(node.Child("argument"), s)
	case "AssignmentPattern":
		declarePattern(node.Child("left"), s)
	}
}
