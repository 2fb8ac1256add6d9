package storage

import (
	"sort"
)

// ScalarIndexKind selects the scalar index structure: btree for
// high-cardinality columns, bitmap for low-cardinality ones, inverted for
// tokenized text.
type ScalarIndexKind string

const (
	ScalarBTree    ScalarIndexKind = "btree"
	ScalarBitmap   ScalarIndexKind = "bitmap"
	ScalarInverted ScalarIndexKind = "inverted"
)

// IsValid reports whether k is a known scalar index kind.
func (k ScalarIndexKind) IsValid() bool {
	return k == ScalarBTree || k == ScalarBitmap || k == ScalarInverted
}

// ScalarIndex maps column values to row keys. The btree form keeps a
// sorted value list for range lookups; bitmap and inverted forms are
// value -> key-set postings (inverted tokenizes values first).
type ScalarIndex struct {
	Column string          `json:"column"`
	Kind   ScalarIndexKind `json:"kind"`
	// Sorted value list, btree only.
	Values []string `json:"values,omitempty"`
	// Postings maps value (or token) -> sorted row keys.
	Postings map[string][]string `json:"postings"`
}

// NewScalarIndex builds an empty index for a column.
func NewScalarIndex(column string, kind ScalarIndexKind) *ScalarIndex {
	return &ScalarIndex{Column: column, Kind: kind, Postings: make(map[string][]string)}
}

// Add indexes one row's value.
func (ix *ScalarIndex) Add(uuid, value string) {
	if value == "" {
		return
	}
	switch ix.Kind {
	case ScalarInverted:
		for _, tok := range Tokenize(value) {
			ix.post(tok, uuid)
		}
	default:
		ix.post(value, uuid)
	}
}

func (ix *ScalarIndex) post(value, uuid string) {
	if ix.Kind == ScalarBTree {
		if _, ok := ix.Postings[value]; !ok {
			pos := sort.SearchStrings(ix.Values, value)
			ix.Values = append(ix.Values, "")
			copy(ix.Values[pos+1:], ix.Values[pos:])
			ix.Values[pos] = value
		}
	}
	keys := ix.Postings[value]
	pos := sort.SearchStrings(keys, uuid)
	if pos < len(keys) && keys[pos] == uuid {
		return
	}
	keys = append(keys, "")
	copy(keys[pos+1:], keys[pos:])
	keys[pos] = uuid
	ix.Postings[value] = keys
}

// Lookup returns the row keys for an exact value (tokenized lookup for
// inverted indices).
func (ix *ScalarIndex) Lookup(value string) []string {
	if ix.Kind == ScalarInverted {
		var out []string
		seen := make(map[string]bool)
		for _, tok := range Tokenize(value) {
			for _, uuid := range ix.Postings[tok] {
				if !seen[uuid] {
					seen[uuid] = true
					out = append(out, uuid)
				}
			}
		}
		sort.Strings(out)
		return out
	}
	return ix.Postings[value]
}

// Cardinality returns the number of distinct indexed values.
func (ix *ScalarIndex) Cardinality() int {
	return len(ix.Postings)
}
