// Package dashboard turns a user's transaction snapshot plus the viewing
// session's inputs into everything the dashboard shows. Every function here is
// a pure transformation; callers recompute instead of caching.
package dashboard

import (
	"cmp"
	"slices"
	"strings"

	"fintrack/internal/core"
)

// TypeFilter selects transactions by type. All disables the predicate.
type TypeFilter string

const (
	TypeAll     TypeFilter = "All"
	TypeIncome  TypeFilter = TypeFilter(core.Income)
	TypeExpense TypeFilter = TypeFilter(core.Expense)
)

// SortKey orders the filtered list.
type SortKey string

const (
	SortDateDesc   SortKey = "date-desc"
	SortDateAsc    SortKey = "date-asc"
	SortAmountDesc SortKey = "amount-desc"
	SortAmountAsc  SortKey = "amount-asc"
)

// ParseTypeFilter accepts All, Income or Expense, case-insensitively. Empty
// input means All.
func ParseTypeFilter(s string) (TypeFilter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return TypeAll, true
	case "income":
		return TypeIncome, true
	case "expense":
		return TypeExpense, true
	}
	return "", false
}

// ParseSortKey accepts the four sort keys. Empty input means date-desc.
func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortDateDesc, true
	case SortDateDesc, SortDateAsc, SortAmountDesc, SortAmountAsc:
		return k, true
	}
	return "", false
}

// Filter is the filter configuration of a viewing session.
//
// Categories is the set of selected categories. An empty selection matches
// nothing: clearing every category yields an empty list, it does not disable
// the predicate. Start and End are optional bounds; End includes its whole day.
type Filter struct {
	Type       TypeFilter
	Categories CategorySet
	Start      core.Date
	End        core.Date
	Sort       SortKey
}

// DefaultFilter returns the filter of a fresh session: every type, the given
// categories selected, no date bounds, newest first.
func DefaultFilter(categories []string) Filter {
	return Filter{
		Type:       TypeAll,
		Categories: NewCategorySet(categories...),
		Sort:       SortDateDesc,
	}
}

// Match reports whether tx satisfies every active predicate of f.
func (f Filter) Match(tx core.Transaction) bool {
	if f.Type != TypeAll && f.Type != "" && string(f.Type) != string(tx.Type) {
		return false
	}
	if !f.Categories.Has(tx.Category) {
		return false
	}
	if !f.Start.IsZero() && tx.Date < f.Start {
		return false
	}
	if !f.End.IsZero() && tx.Date > f.End {
		return false
	}
	return true
}

// HasDateRange reports whether either bound is set.
func (f Filter) HasDateRange() bool {
	return !f.Start.IsZero() || !f.End.IsZero()
}

// Apply returns the transactions that match f, ordered by f.Sort. The input is
// not modified. Ties keep their input order.
func Apply(txs []core.Transaction, f Filter) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	SortTransactions(out, f.Sort)
	return out
}

// SortTransactions sorts txs in place with a stable comparator.
func SortTransactions(txs []core.Transaction, key SortKey) {
	var cmpFn func(a, b core.Transaction) int
	switch key {
	case SortDateAsc:
		cmpFn = func(a, b core.Transaction) int { return strings.Compare(string(a.Date), string(b.Date)) }
	case SortAmountDesc:
		cmpFn = func(a, b core.Transaction) int { return cmp.Compare(b.Amount.Cents, a.Amount.Cents) }
	case SortAmountAsc:
		cmpFn = func(a, b core.Transaction) int { return cmp.Compare(a.Amount.Cents, b.Amount.Cents) }
	case SortDateDesc, "":
		cmpFn = func(a, b core.Transaction) int { return strings.Compare(string(b.Date), string(a.Date)) }
	default:
		return
	}
	slices.SortStableFunc(txs, cmpFn)
}
