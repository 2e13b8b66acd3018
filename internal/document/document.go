// Package document converts store records into indexable search documents.
package document

import (
	"context"
	"errors"
	"fmt"
)

// IDField is the store-assigned primary identifier field.
const IDField = "_id"

// ErrMissingID is returned for records without a usable identifier.
var ErrMissingID = errors.New("record has no _id")

// Record is a record as read from the document store.
type Record map[string]interface{}

// Document is the body sent to the search engine.
type Document map[string]interface{}

// Filter is a store query filter.
type Filter map[string]interface{}

// ChangeKind classifies a change observed in the store.
type ChangeKind int

const (
	Created ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeHandler receives record lifecycle notifications from the store.
// Created and Updated records are saves, Deleted records are removals.
type ChangeHandler interface {
	OnSave(ctx context.Context, rec Record)
	OnRemove(ctx context.Context, rec Record)
}

// ID returns the record identifier as the search document id.
func (r Record) ID() (string, error) {
	if r == nil {
		return "", ErrMissingID
	}
	v, ok := r[IDField]
	if !ok || v == nil {
		return "", ErrMissingID
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", ErrMissingID
		}
		return id, nil
	case fmt.Stringer:
		return id.String(), nil
	default:
		return fmt.Sprintf("%v", id), nil
	}
}

// Build returns the document id and the indexable body of a record.
// With a non-empty selection only the selected fields are kept; the
// identifier field is always dropped since it becomes the document id.
func Build(rec Record, selection []string) (string, Document, error) {
	id, err := rec.ID()
	if err != nil {
		return "", nil, err
	}

	doc := make(Document, len(rec))
	if len(selection) == 0 {
		for k, v := range rec {
			doc[k] = v
		}
	} else {
		for _, field := range selection {
			if v, ok := rec[field]; ok {
				doc[field] = v
			}
		}
	}
	delete(doc, IDField)

	return id, doc, nil
}

// NormalizeFilter turns an untyped filter into a Filter. Anything that is
// not an object yields an empty filter.
func NormalizeFilter(v interface{}) Filter {
	switch f := v.(type) {
	case Filter:
		if f == nil {
			return Filter{}
		}
		return f
	case map[string]interface{}:
		if f == nil {
			return Filter{}
		}
		return Filter(f)
	default:
		return Filter{}
	}
}
