// Package metadata resolves and caches document metadata: the closed set
// of document types, the relational lookups that own the source of truth,
// and the read-through cache that keeps the retrieval path off the
// database.
package metadata

import (
	"github.com/tutorstack/retrieval/internal/fault"
)

// DocType is the closed set of document kinds the pipeline indexes.
// Using a typed constant instead of free-form strings means a new kind
// cannot silently fall through a dispatch.
type DocType int

const (
	// DocTypeBook is an uploaded textbook.
	DocTypeBook DocType = iota + 1

	// DocTypeSlides is an uploaded slide deck.
	DocTypeSlides

	// DocTypeNotes is user-authored notes.
	DocTypeNotes
)

// AllDocTypes lists every known type, for iteration in lookups.
var AllDocTypes = []DocType{DocTypeBook, DocTypeSlides, DocTypeNotes}

// ParseDocType maps the wire/storage spelling onto a DocType. The legacy
// aliases ("slides", "presentation", "notes") all normalize to the enum.
func ParseDocType(s string) (DocType, error) {
	switch s {
	case "book":
		return DocTypeBook, nil
	case "slides", "presentation":
		return DocTypeSlides, nil
	case "notes", "note":
		return DocTypeNotes, nil
	default:
		return 0, fault.Validationf("unknown document type %q", s)
	}
}

// String returns the canonical storage spelling.
func (t DocType) String() string {
	switch t {
	case DocTypeBook:
		return "book"
	case DocTypeSlides:
		return "presentation"
	case DocTypeNotes:
		return "notes"
	default:
		return "unknown"
	}
}

// Label returns the user-facing spelling used in references.
func (t DocType) Label() string {
	switch t {
	case DocTypeBook:
		return "Book"
	case DocTypeSlides:
		return "Presentation"
	case DocTypeNotes:
		return "Notes"
	default:
		return "Document"
	}
}

// Table returns the relational table that owns documents of this type.
func (t DocType) Table() string {
	switch t {
	case DocTypeBook:
		return "books"
	case DocTypeSlides:
		return "presentations"
	case DocTypeNotes:
		return "notes"
	default:
		return ""
	}
}

// Valid reports whether t is one of the known types.
func (t DocType) Valid() bool {
	return t >= DocTypeBook && t <= DocTypeNotes
}
