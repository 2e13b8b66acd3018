package indexer

// Target is the index and document type a collection is mirrored into
type Target struct {
	Index string `json:"index" yaml:"index"`
	Type  string `json:"type" yaml:"type"`
}

// ResolveTarget derives the target of a collection. Explicit values win;
// otherwise the index is the collection name plus "s" and the type is the
// collection name.
func ResolveTarget(collection, index, docType string) Target {
	if index == "" {
		index = collection + "s"
	}
	if docType == "" {
		docType = collection
	}
	return Target{Index: index, Type: docType}
}

// override replaces the index and type of t with the non-empty arguments
func (t Target) override(index, docType string) Target {
	if index != "" {
		t.Index = index
	}
	if docType != "" {
		t.Type = docType
	}
	return t
}
