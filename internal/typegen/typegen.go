// Package typegen maps gateway schema metadata into Go type declarations.
// It is a one-shot text transform with no runtime role: cmd/typegen feeds it
// a schema JSON document and writes the generated source to disk.
package typegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/format"
	"strings"
	"unicode"
)

// Schema is the gateway's event schema metadata document.
type Schema struct {
	Structs []StructDef `json:"structs"`
}

// StructDef describes one on-chain event struct.
type StructDef struct {
	Name    string     `json:"name"`
	Module  string     `json:"module"`
	Address string     `json:"address"`
	Fields  []FieldDef `json:"fields"`
}

// FieldDef is one field with its Move type.
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QualifiedType is the fully qualified event type of the struct.
func (s StructDef) QualifiedType() string {
	return s.Address + "::" + s.Module + "::" + s.Name
}

// Generate parses schema JSON and renders one gofmt-formatted Go source
// file declaring a typed struct per event plus its qualified type constant.
// Output is deterministic: declarations follow schema order.
func Generate(schemaJSON []byte, pkg string) ([]byte, error) {
	var schema Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(schema.Structs) == 0 {
		return nil, fmt.Errorf("schema declares no structs")
	}
	if pkg == "" {
		pkg = "events"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by movefeed typegen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)

	if needsRawMessage(schema) {
		fmt.Fprintf(&b, "import \"encoding/json\"\n\n")
	}

	for _, s := range schema.Structs {
		goName := exportName(s.Name)
		fmt.Fprintf(&b, "// %sType is the fully qualified event type of %s.\n", goName, goName)
		fmt.Fprintf(&b, "const %sType = %q\n\n", goName, s.QualifiedType())

		fmt.Fprintf(&b, "// %s mirrors %s.\n", goName, s.QualifiedType())
		fmt.Fprintf(&b, "type %s struct {\n", goName)
		for _, f := range s.Fields {
			fmt.Fprintf(&b, "\t%s %s `json:%q`\n", exportName(f.Name), goType(f.Type), f.Name)
		}
		fmt.Fprintf(&b, "}\n\n")
	}

	src, err := format.Source(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated source: %w", err)
	}
	return src, nil
}

// goType maps one Move type expression to its Go representation. Integers
// wider than 32 bits map to string because the gateway serializes them as
// decimal strings to avoid JSON number precision loss.
func goType(moveType string) string {
	switch moveType {
	case "u8":
		return "uint8"
	case "u16":
		return "uint16"
	case "u32":
		return "uint32"
	case "u64", "u128", "u256":
		return "string"
	case "bool":
		return "bool"
	case "address", "0x1::string::String", "0x2::object::ID":
		return "string"
	}

	if inner, ok := strings.CutPrefix(moveType, "vector<"); ok && strings.HasSuffix(inner, ">") {
		inner = strings.TrimSuffix(inner, ">")
		if inner == "u8" {
			// vector<u8> arrives hex-encoded.
			return "string"
		}
		return "[]" + goType(inner)
	}

	// Nested structs and generics stay opaque.
	return "json.RawMessage"
}

// needsRawMessage reports whether any field maps to json.RawMessage.
func needsRawMessage(schema Schema) bool {
	for _, s := range schema.Structs {
		for _, f := range s.Fields {
			if strings.Contains(goType(f.Type), "json.RawMessage") {
				return true
			}
		}
	}
	return false
}

// exportName converts a snake_case Move identifier to an exported Go name.
func exportName(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	if b.Len() == 0 {
		return "X"
	}
	return b.String()
}
