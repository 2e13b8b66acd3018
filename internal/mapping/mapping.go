// Package mapping compiles record schemas into search index mappings.
package mapping

// Property is the mapping of a single field.
type Property struct {
	Type       FieldType   `json:"type" yaml:"type"`
	Boost      *float64    `json:"boost,omitempty" yaml:"boost,omitempty"`
	NullValue  interface{} `json:"null_value,omitempty" yaml:"null_value,omitempty"`
	CopyTo     string      `json:"copy_to,omitempty" yaml:"copy_to,omitempty"`
	Properties Mapping     `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Mapping maps field names to their properties. It mirrors the schema tree.
type Mapping map[string]Property

// Body wraps the mapping in the put-mapping request body.
func Body(m Mapping) map[string]interface{} {
	return map[string]interface{}{"properties": m}
}

// CopyTargets returns source field to copy_to target pairs at the top level
// and, for nested properties, keyed by dotted path.
func (m Mapping) CopyTargets() map[string]string {
	targets := make(map[string]string)
	m.collectCopyTargets("", targets)
	return targets
}

func (m Mapping) collectCopyTargets(prefix string, targets map[string]string) {
	for name, prop := range m {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if prop.CopyTo != "" {
			targets[path] = prop.CopyTo
		}
		if len(prop.Properties) > 0 {
			prop.Properties.collectCopyTargets(path, targets)
		}
	}
}

// NullValues returns the fields that declare a null_value substitute, keyed
// by dotted path like CopyTargets.
func (m Mapping) NullValues() map[string]interface{} {
	values := make(map[string]interface{})
	m.collectNullValues("", values)
	return values
}

func (m Mapping) collectNullValues(prefix string, values map[string]interface{}) {
	for name, prop := range m {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if prop.NullValue != nil {
			values[path] = prop.NullValue
		}
		if len(prop.Properties) > 0 {
			prop.Properties.collectNullValues(path, values)
		}
	}
}
