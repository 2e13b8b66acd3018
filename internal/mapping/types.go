package mapping

import "strings"

// FieldType is a search engine field type.
type FieldType string

// Field types understood by the search backends
const (
	Text    FieldType = "text"
	Keyword FieldType = "keyword"
	Float   FieldType = "float"
	Date    FieldType = "date"
	Boolean FieldType = "boolean"
	Binary  FieldType = "binary"
	Object  FieldType = "object"
	Nested  FieldType = "nested"
)

// Resolve maps a store primitive type name to a search field type.
// Unknown and empty names resolve to Text.
func Resolve(primitive string) FieldType {
	switch strings.ToLower(primitive) {
	case "string":
		return Text
	case "number", "double", "int", "long", "decimal":
		return Float
	case "date":
		return Date
	case "boolean", "bool":
		return Boolean
	case "binary", "buffer", "bindata":
		return Binary
	case "mixed", "object":
		return Object
	case "objectid":
		return Keyword
	case "array":
		return Text
	default:
		return Text
	}
}
