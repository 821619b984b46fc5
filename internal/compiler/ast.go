package compiler

// Node is a single ESTree node as produced by the external script parser.
//
// The compiler only understands the handful of node types that bind or reference names, so
// nodes are kept generic: fields are stored in the order the parser emitted them and values are
// either scalars (string, float64, bool, nil), child nodes (*Node) or lists ([]any holding *Node,
// nil for array holes, or scalars). Plain objects without a "type" (e.g. `regex` on literals) are
// stored as *Node with an empty Type.
type Node struct {
	Type   string
	fields []field
}

type field struct {
	value any
	key   string
}

// NewNode returns a node of the given type with the key/value pairs applied in order.
func NewNode(typ string, kv ...any) *Node {
	node := &Node{Type: typ}

	for i := 0; i+1 < len(kv); i += 2 {
		node.Set(kv[i].(string), kv[i+1])
	}

	return node
}

// Keys returns the field names in parser order.
func (node *Node) Keys() []string {
	keys := make([]string, len(node.fields))

	for i, f := range node.fields {
		keys[i] = f.key
	}

	return keys
}

// Get returns the raw field value.
func (node *Node) Get(key string) any {
	if node == nil {
		return nil
	}

	for _, f := range node.fields {
		if f.key == key {
			return f.value
		}
	}

	return nil
}

// Set replaces the field value, appending the field if it does not exist yet.
func (node *Node) Set(key string, value any) {
	for i, f := range node.fields {
		if f.key == key {
			node.fields[i].value = value
			return
		}
	}

	node.fields = append(node.fields, field{key: key, value: value})
}

// Child returns the field as a node, nil if absent or not a node.
func (node *Node) Child(key string) *Node {
	child, _ := node.Get(key).(*Node)
	return child
}

// Children returns the node elements of a list field, skipping holes and scalars.
func (node *Node) Children(key string) []*Node {
	list, _ := node.Get(key).([]any)
	children := make([]*Node, 0, len(list))

	for _, item := range list {
		if child, ok := item.(*Node); ok && child != nil {
			children = append(children, child)
		}
	}

	return children
}

// Str returns a string field, "" if absent.
func (node *Node) Str(key string) string {
	str, _ := node.Get(key).(string)
	return str
}

// Bool returns a boolean field, false if absent.
func (node *Node) Bool(key string) bool {
	b, _ := node.Get(key).(bool)
	return b
}

// Range returns the [start, end) source offsets reported by the parser.
// ok is false for nodes that were synthesized by the compiler.
func (node *Node) Range() (start, end int, ok bool) {
	s, sok := node.Get("start").(float64)
	e, eok := node.Get("end").(float64)

	return int(s), int(e), sok && eok
}

// Name is a shortcut for the `name` field of an Identifier.
func (node *Node) Name() string {
	return node.Str("name")
}

// ShallowCopy returns a copy of the node sharing its children.
func (node *Node) ShallowCopy() *Node {
	dup := &Node{Type: node.Type, fields: make([]field, len(node.fields))}
	copy(dup.fields, node.fields)

	return dup
}

func isFunction(node *Node) bool {
	switch node.Type {
	case "FunctionDeclaration", "FunctionExpression", "ArrowFunctionExpression":
		return true
	}

	return false
}

func isClass(node *Node) bool {
	return node.Type == "ClassDeclaration" || node.Type == "ClassExpression"
}

// Builders for the statements the compiler synthesizes.

// Identifier builds an Identifier node.
func Identifier(name string) *Node {
	return NewNode("Identifier", "name", name)
}

// StringLiteral builds a string Literal node.
func StringLiteral(value string) *Node {
	return NewNode("Literal", "value", value, "raw", quote(value))
}

// ImportDeclaration builds `import { a, b } from "source"`.
func ImportDeclaration(names []string, source string) *Node {
	specifiers := make([]any, len(names))

	for i, name := range names {
		specifiers[i] = NewNode("ImportSpecifier", "imported", Identifier(name), "local", Identifier(name))
	}

	return NewNode("ImportDeclaration", "specifiers", specifiers, "source", StringLiteral(source))
}

// ExportAllDeclaration builds `export * from "source"`.
func ExportAllDeclaration(source string) *Node {
	return NewNode("ExportAllDeclaration", "exported", nil, "source", StringLiteral(source))
}
