package mapping

import (
	"github.com/davidschrooten/searchsync/internal/schema"
)

// Compile turns a schema into a mapping.
//
// At each level, if any field is marked indexed only indexed fields are
// mapped; otherwise every non-excluded field is. Copy-to companions declared
// inside nested schemas are promoted to the root.
func Compile(s *schema.Schema) Mapping {
	if s == nil {
		return Mapping{}
	}
	// the root level inserts its companions directly, so nothing is promoted
	local, _ := compileLevel(s.Fields, "")
	return local
}

// branch accumulates one candidate mapping for a level.
type branch struct {
	local    Mapping
	promoted Mapping
}

func newBranch() *branch {
	return &branch{local: Mapping{}, promoted: Mapping{}}
}

// compileLevel compiles the fields of one schema level. parent is the
// underscore-joined path of nested fields leading here, empty at the root.
// It returns the level's properties and the companions its caller must merge.
func compileLevel(fields []schema.Field, parent string) (Mapping, Mapping) {
	all := newBranch()
	selected := newBranch()
	anyIndexed := false

	for _, f := range fields {
		if f.Excluded {
			continue
		}
		all.add(f, parent)
		if f.Indexed {
			anyIndexed = true
			selected.add(f, parent)
		}
	}

	if anyIndexed {
		return selected.local, selected.promoted
	}
	return all.local, all.promoted
}

func (b *branch) add(f schema.Field, parent string) {
	prop := Property{Type: fieldType(f)}
	if f.Boost != nil {
		boost := *f.Boost
		prop.Boost = &boost
	}
	if f.NullValue != nil {
		prop.NullValue = f.NullValue
	}

	if f.CopyTo != nil {
		target := f.CopyTo.Field
		if f.CopyTo.Separate && parent != "" {
			target = parent + "_" + target
		}
		prop.CopyTo = target

		companion := Property{Type: Text}
		if f.CopyTo.Type != "" {
			companion.Type = FieldType(f.CopyTo.Type)
		}
		b.stage(target, companion, parent)
	}

	if f.IsNested() {
		childParent := f.Name
		if parent != "" {
			childParent = parent + "_" + f.Name
		}
		children, promoted := compileLevel(f.Schema.Fields, childParent)
		prop.Properties = children
		for name, companion := range promoted {
			b.stage(name, companion, parent)
		}
	}

	b.local[f.Name] = prop
}

// stage places a copy-to companion at the root, or hands it to the caller
// when compiling a nested level. Declared fields take precedence.
func (b *branch) stage(name string, companion Property, parent string) {
	target := b.promoted
	if parent == "" {
		target = b.local
	}
	if _, exists := target[name]; !exists {
		target[name] = companion
	}
}

func fieldType(f schema.Field) FieldType {
	if f.IsNested() {
		return Nested
	}
	if f.SearchType != "" {
		return FieldType(f.SearchType)
	}
	return Resolve(f.Type)
}
