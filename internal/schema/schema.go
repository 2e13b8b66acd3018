// Package schema holds the static description of a collection's records:
// which fields exist, their store types, and how each should be indexed.
// A Schema is built once at startup and never mutated afterwards.
package schema

import (
	"errors"
	"fmt"

	"github.com/davidschrooten/searchsync/config"
)

// ErrInvalidSchema is returned when a schema cannot be built.
var ErrInvalidSchema = errors.New("invalid schema")

// Field describes one field of a record.
type Field struct {
	Name       string
	Type       string // store primitive type
	SearchType string // explicit search field type, overrides Type
	Indexed    bool
	Excluded   bool
	Boost      *float64
	NullValue  interface{}
	CopyTo     *CopyTo
	Schema     *Schema // set for nested sub-documents
}

// CopyTo makes a field's value also indexed under a second field.
type CopyTo struct {
	Field    string
	Separate bool // namespace the target by the parent field path
	Type     string
}

// Schema is an ordered set of fields, possibly nesting other schemas.
type Schema struct {
	Fields []Field
}

// IsNested reports whether the field holds a sub-document with its own schema.
func (f Field) IsNested() bool {
	return f.Schema != nil
}

// New validates the fields and returns the schema.
func New(fields ...Field) (*Schema, error) {
	s := &Schema{Fields: fields}
	if err := s.validate(map[*Schema]bool{}, ""); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) validate(visiting map[*Schema]bool, path string) error {
	if visiting[s] {
		return fmt.Errorf("%w: cycle at %q", ErrInvalidSchema, path)
	}
	visiting[s] = true
	defer delete(visiting, s)

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		fieldPath := f.Name
		if path != "" {
			fieldPath = path + "." + f.Name
		}
		if f.Name == "" {
			return fmt.Errorf("%w: empty field name under %q", ErrInvalidSchema, path)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, fieldPath)
		}
		seen[f.Name] = true
		if f.CopyTo != nil && f.CopyTo.Field == "" {
			return fmt.Errorf("%w: copy_to of %q has no target field", ErrInvalidSchema, fieldPath)
		}
		if f.Schema != nil {
			if err := f.Schema.validate(visiting, fieldPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// IndexedFields returns the names of top level fields marked indexed.
func (s *Schema) IndexedFields() []string {
	if s == nil {
		return nil
	}
	var names []string
	for _, f := range s.Fields {
		if f.Indexed && !f.Excluded {
			names = append(names, f.Name)
		}
	}
	return names
}

// FromConfig builds a schema from the declared collection fields.
func FromConfig(fields []config.FieldConfig) (*Schema, error) {
	return New(convertFields(fields)...)
}

func convertFields(cfgs []config.FieldConfig) []Field {
	fields := make([]Field, 0, len(cfgs))
	for _, fc := range cfgs {
		f := Field{
			Name:       fc.Name,
			Type:       fc.Type,
			SearchType: fc.SearchType,
			Indexed:    fc.Indexed,
			Excluded:   fc.Excluded,
			Boost:      fc.Boost,
			NullValue:  fc.NullValue,
		}
		if fc.CopyTo != nil {
			f.CopyTo = &CopyTo{
				Field:    fc.CopyTo.Field,
				Separate: fc.CopyTo.Separate,
				Type:     fc.CopyTo.Type,
			}
		}
		if len(fc.Fields) > 0 {
			f.Schema = &Schema{Fields: convertFields(fc.Fields)}
		}
		fields = append(fields, f)
	}
	return fields
}
