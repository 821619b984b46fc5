package compiler

import (
	"bytes"
	"encoding/json"

	"github.com/River-unknown/kit/internal/errors"
)

// DecodeProgram decodes an ESTree Program emitted by the parser as JSON.
// Field order is preserved so traversal, and therefore compiler output, is deterministic.
func DecodeProgram(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	value, err := decodeValue(dec)
	if err != nil {
		return nil, errors.Errorf("decode ast: %w", err)
	}

	program, ok := value.(*Node)
	if !ok || program.Type != "Program" {
		return nil, errors.Errorf("decode ast: expected a Program node")
	}

	return program, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch tok := tok.(type) {
	case json.Delim:
		switch tok {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}

		return nil, errors.Errorf("unexpected delimiter %q", tok)
	default:
		// string, float64, bool or nil
		return tok, nil
	}
}

func decodeObject(dec *json.Decoder) (*Node, error) {
	node := &Node{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected object key %v", tok)
		}

		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		if key == "type" {
			if typ, ok := value.(string); ok {
				node.Type = typ
				continue
			}
		}

		node.fields = append(node.fields, field{key: key, value: value})
	}

	// closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return node, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	list := []any{}

	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		list = append(list, value)
	}

	// closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return list, nil
}

// MarshalJSON encodes the node back to ESTree JSON, keeping the field order.
func (node *Node) MarshalJSON() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := encodeValue(buf, node); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func encodeValue(w *bytes.Buffer, value any) error {
	switch value := value.(type) {
	case *Node:
		if value == nil {
			w.WriteString("null")
			return nil
		}

		return encodeNode(w, value)
	case []any:
		w.WriteByte('[')

		for i, item := range value {
			if i > 0 {
				w.WriteByte(',')
			}

			if err := encodeValue(w, item); err != nil {
				return err
			}
		}

		w.WriteByte(']')

		return nil
	default:
		return encodeScalar(w, value)
	}
}

func encodeNode(w *bytes.Buffer, node *Node) error {
	w.WriteByte('{')

	first := true

	if node.Type != "" {
		w.WriteString(`"type":`)

		if err := encodeScalar(w, node.Type); err != nil {
			return err
		}

		first = false
	}

	for _, f := range node.fields {
		if !first {
			w.WriteByte(',')
		}

		first = false

		if err := encodeScalar(w, f.key); err != nil {
			return err
		}

		w.WriteByte(':')

		if err := encodeValue(w, f.value); err != nil {
			return err
		}
	}

	w.WriteByte('}')

	return nil
}

func encodeScalar(w *bytes.Buffer, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.New(err)
	}

	w.Write(raw)

	return nil
}

// quote renders value as a double quoted script string literal.
func quote(value string) string {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(value); err != nil {
		return `""`
	}

	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
