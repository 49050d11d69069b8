package dashboard

import (
	"testing"

	"fintrack/internal/core"
)

func tx(id string, typ core.TransactionType, cents int64, category, date string) core.Transaction {
	return core.Transaction{
		ID:          id,
		Description: "tx " + id,
		Amount:      core.Money{Cents: cents},
		Type:        typ,
		Category:    category,
		Date:        core.Date(date),
	}
}

func ids(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func equalIDs(t *testing.T, got []core.Transaction, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("got %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("got %v, want %v", g, want)
		}
	}
}

func sample() []core.Transaction {
	return []core.Transaction{
		tx("1", core.Income, 100000, "Salary", "2025-01-31"),
		tx("2", core.Expense, 2500, "Food", "2025-01-10"),
		tx("3", core.Expense, 4000, "Transport", "2025-02-03"),
		tx("4", core.Expense, 1500, "Food", "2025-02-14"),
		tx("5", core.Income, 20000, "Freelance", "2024-12-20"),
	}
}

func TestApplyDefaultFilterSortsNewestFirst(t *testing.T) {
	txs := sample()
	got := Apply(txs, DefaultFilter(Categories(txs)))
	equalIDs(t, got, "4", "3", "1", "2", "5")
}

func TestApplyEmptySelectionMatchesNothing(t *testing.T) {
	f := DefaultFilter(nil)
	if got := Apply(sample(), f); len(got) != 0 {
		t.Fatalf("expected no results with empty selection, got %v", ids(got))
	}
}

func TestApplyPredicates(t *testing.T) {
	txs := sample()
	all := Categories(txs)

	cases := []struct {
		name   string
		mutate func(*Filter)
		want   []string
	}{
		{"income only", func(f *Filter) { f.Type = TypeIncome }, []string{"1", "5"}},
		{"expense only", func(f *Filter) { f.Type = TypeExpense }, []string{"4", "3", "2"}},
		{"category subset", func(f *Filter) { f.Categories = NewCategorySet("Food") }, []string{"4", "2"}},
		{"start bound inclusive", func(f *Filter) { f.Start = "2025-01-31" }, []string{"4", "3", "1"}},
		{"end bound inclusive", func(f *Filter) { f.End = "2025-01-10" }, []string{"2", "5"}},
		{"range", func(f *Filter) { f.Start, f.End = "2025-01-01", "2025-01-31" }, []string{"1", "2"}},
		{"amount desc", func(f *Filter) { f.Sort = SortAmountDesc }, []string{"1", "5", "3", "2", "4"}},
		{"amount asc", func(f *Filter) { f.Sort = SortAmountAsc }, []string{"4", "2", "3", "5", "1"}},
		{"date asc", func(f *Filter) { f.Sort = SortDateAsc }, []string{"5", "2", "1", "3", "4"}},
		{"expense food", func(f *Filter) {
			f.Type = TypeExpense
			f.Categories = NewCategorySet("Food", "Salary")
		}, []string{"4", "2"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := DefaultFilter(all)
			tc.mutate(&f)
			equalIDs(t, Apply(txs, f), tc.want...)
		})
	}
}

func TestApplyStableTies(t *testing.T) {
	txs := []core.Transaction{
		tx("a", core.Expense, 500, "Food", "2025-03-01"),
		tx("b", core.Expense, 500, "Food", "2025-03-01"),
		tx("c", core.Expense, 500, "Food", "2025-03-01"),
	}
	f := DefaultFilter([]string{"Food"})
	equalIDs(t, Apply(txs, f), "a", "b", "c")
	f.Sort = SortAmountAsc
	equalIDs(t, Apply(txs, f), "a", "b", "c")
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	txs := sample()
	Apply(txs, DefaultFilter(Categories(txs)))
	equalIDs(t, txs, "1", "2", "3", "4", "5")
}

func TestApplyIsIdempotent(t *testing.T) {
	txs := sample()
	f := DefaultFilter(Categories(txs))
	f.Type = TypeExpense
	once := Apply(txs, f)
	twice := Apply(once, f)
	equalIDs(t, twice, ids(once)...)
}

func TestParseTypeFilter(t *testing.T) {
	cases := map[string]TypeFilter{"": TypeAll, "all": TypeAll, "Income": TypeIncome, "EXPENSE": TypeExpense}
	for in, want := range cases {
		got, ok := ParseTypeFilter(in)
		if !ok || got != want {
			t.Fatalf("ParseTypeFilter(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseTypeFilter("transfer"); ok {
		t.Fatal("expected transfer to be rejected")
	}
}

func TestParseSortKey(t *testing.T) {
	if k, ok := ParseSortKey(""); !ok || k != SortDateDesc {
		t.Fatalf("empty sort key = %q, %v", k, ok)
	}
	if k, ok := ParseSortKey("amount-asc"); !ok || k != SortAmountAsc {
		t.Fatalf("amount-asc = %q, %v", k, ok)
	}
	if _, ok := ParseSortKey("name"); ok {
		t.Fatal("expected unknown sort key to be rejected")
	}
}
