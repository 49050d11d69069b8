package dashboard

import (
	"slices"

	"fintrack/internal/core"
)

// CategorySet is a set of category names. The zero value is an empty set.
type CategorySet map[string]struct{}

func NewCategorySet(names ...string) CategorySet {
	s := make(CategorySet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s CategorySet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s CategorySet) Len() int {
	return len(s)
}

// Clone returns an independent copy.
func (s CategorySet) Clone() CategorySet {
	out := make(CategorySet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Toggle returns a copy with name added if absent or removed if present.
func (s CategorySet) Toggle(name string) CategorySet {
	out := s.Clone()
	if out.Has(name) {
		delete(out, name)
	} else {
		out[name] = struct{}{}
	}
	return out
}

// Sorted returns the names in lexical order.
func (s CategorySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Categories derives the distinct categories present in txs, in order of first
// appearance.
func Categories(txs []core.Transaction) []string {
	seen := make(map[string]struct{}, len(txs))
	out := make([]string, 0)
	for _, tx := range txs {
		if _, ok := seen[tx.Category]; ok {
			continue
		}
		seen[tx.Category] = struct{}{}
		out = append(out, tx.Category)
	}
	return out
}

// ReconcileSelection keeps a selection consistent with the categories of a new
// snapshot. An empty previous selection becomes every category; otherwise only
// categories that still exist are kept, falling back to every category when
// none survive.
func ReconcileSelection(prev CategorySet, categories []string) CategorySet {
	if len(prev) == 0 {
		return NewCategorySet(categories...)
	}
	kept := make(CategorySet, len(prev))
	for _, c := range categories {
		if prev.Has(c) {
			kept[c] = struct{}{}
		}
	}
	if len(kept) == 0 {
		return NewCategorySet(categories...)
	}
	return kept
}

// AllSelected reports whether every known category is selected, which is how
// the category dropdown decides to read "All Categories".
func AllSelected(selected CategorySet, categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	if len(selected) != len(categories) {
		return false
	}
	for _, c := range categories {
		if !selected.Has(c) {
			return false
		}
	}
	return true
}
