// Package cursor implements ordered, filtered entry iteration over a
// journal file: the Filter expression tree and the Cursor state
// machine that steps through entries (optionally restricted by a
// resolved filter bitmap).
package cursor

import (
	"strconv"
	"strings"

	"github.com/vkalintiris/journal-go/bitmap"
	"github.com/vkalintiris/journal-go/indexer"
	"github.com/vkalintiris/journal-go/objfile"
)

// FilterKind discriminates a Filter node.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterMatch
	FilterAnd
	FilterOr
)

// Filter is a tagged tree: None, Match(field=value) or Match(field)
// (wildcard over all values of a field), And(children), Or(children).
type Filter struct {
	Kind     FilterKind
	Pair     objfile.FieldValuePair // set when Kind==FilterMatch and Field=="" is not used
	Field    objfile.FieldName      // set when Kind==FilterMatch for a field-wildcard match
	wildcard bool
	Children []Filter
}

// MatchValue builds a Match(field=value) leaf.
func MatchValue(pair objfile.FieldValuePair) Filter {
	return Filter{Kind: FilterMatch, Pair: pair}
}

// MatchField builds a Match(field) wildcard leaf: OR of all field=*.
func MatchField(field objfile.FieldName) Filter {
	return Filter{Kind: FilterMatch, Field: field, wildcard: true}
}

// And flattens nested And nodes into a single node on construction.
func And(children ...Filter) Filter {
	return Filter{Kind: FilterAnd, Children: flatten(FilterAnd, children)}
}

// Or flattens nested Or nodes into a single node on construction.
func Or(children ...Filter) Filter {
	return Filter{Kind: FilterOr, Children: flatten(FilterOr, children)}
}

func flatten(kind FilterKind, children []Filter) []Filter {
	var out []Filter
	for _, c := range children {
		if c.Kind == kind {
			out = append(out, c.Children...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// None is the absence of a filter: resolving it never yields a
// bitmap; the cursor treats absence as "match everything".
var None = Filter{Kind: FilterNone}

// Resolve evaluates the filter against a file's bitmap table,
// returning ok=false for FilterNone (meaning "no restriction").
// Match(field) not present in the file's field set contributes the
// empty bitmap over the file's entry universe, per spec.md's "a field
// not present contributes 0 to all counts" rule.
func (f Filter) Resolve(fi *indexer.FileIndex) (bitmap.Bitmap, bool) {
	universe := uint32(fi.NEntries)
	switch f.Kind {
	case FilterNone:
		return bitmap.Bitmap{}, false
	case FilterMatch:
		if f.wildcard {
			return resolveFieldWildcard(fi, f.Field, universe), true
		}
		if bm, ok := fi.Bitmaps[f.Pair]; ok {
			return bm, true
		}
		return bitmap.Empty(universe), true
	case FilterAnd:
		result := bitmap.Full(universe)
		any := false
		for _, c := range f.Children {
			bm, ok := c.Resolve(fi)
			if !ok {
				continue
			}
			if !any {
				result = bm
				any = true
			} else {
				result = bitmap.And(result, bm)
			}
		}
		if !any {
			return bitmap.Bitmap{}, false
		}
		return result, true
	case FilterOr:
		result := bitmap.Empty(universe)
		any := false
		for _, c := range f.Children {
			bm, ok := c.Resolve(fi)
			if !ok {
				continue
			}
			if !any {
				result = bm
				any = true
			} else {
				result = bitmap.Or(result, bm)
			}
		}
		if !any {
			return bitmap.Bitmap{}, false
		}
		return result, true
	default:
		return bitmap.Bitmap{}, false
	}
}

// Canonical returns a deterministic textual form of f, suitable as
// input to a cache-key hash; it is not meant to be parsed back.
func (f Filter) Canonical() string {
	var b strings.Builder
	f.writeCanonical(&b)
	return b.String()
}

func (f Filter) writeCanonical(b *strings.Builder) {
	switch f.Kind {
	case FilterNone:
		b.WriteString("none")
	case FilterMatch:
		if f.wildcard {
			b.WriteString("has(")
			b.WriteString(string(f.Field))
			b.WriteByte(')')
		} else {
			b.WriteString("eq(")
			b.WriteString(f.Pair.String())
			b.WriteByte(')')
		}
	case FilterAnd, FilterOr:
		if f.Kind == FilterAnd {
			b.WriteString("and(")
		} else {
			b.WriteString("or(")
		}
		for i, c := range f.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.writeCanonical(b)
		}
		b.WriteByte(')')
	default:
		b.WriteString("kind" + strconv.Itoa(int(f.Kind)))
	}
}

func resolveFieldWildcard(fi *indexer.FileIndex, field objfile.FieldName, universe uint32) bitmap.Bitmap {
	result := bitmap.Empty(universe)
	any := false
	for pair, bm := range fi.Bitmaps {
		if pair.Field() != field {
			continue
		}
		if !any {
			result = bm
			any = true
		} else {
			result = bitmap.Or(result, bm)
		}
	}
	return result
}
