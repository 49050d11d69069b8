package dashboard

import (
	"cmp"
	"fmt"
	"slices"
	"unicode/utf16"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	IncomeColor  = "#16a34a"
	ExpenseColor = "#dc2626"
	OthersColor  = "#d1d5db"

	// OthersLabel names the merged bucket of minor categories.
	OthersLabel = "Others"

	// DefaultOthersThreshold is the percentage under which a category is merged
	// into Others when grouping is enabled.
	DefaultOthersThreshold = 6.0

	// EmptyChartMessage is shown instead of the donut when nothing was recorded.
	EmptyChartMessage = "No data to show yet."
)

// Totals are the income and expense sums of a transaction scope.
type Totals struct {
	Income  core.Money `json:"income"`
	Expense core.Money `json:"expense"`
	Balance core.Money `json:"balance"`
	// Empty is true when income and expense are both zero.
	Empty bool `json:"empty"`
}

// Slice is one segment of a donut or pie chart.
type Slice struct {
	Label   string     `json:"label"`
	Value   core.Money `json:"value"`
	Color   string     `json:"color"`
	Percent float64    `json:"percent"`
}

// Grouping controls how small categories are folded into Others.
type Grouping struct {
	Enabled          bool
	ThresholdPercent float64
}

// Balance sums income and expense. Balance is income minus expense and may be
// negative.
func Balance(txs []core.Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch tx.Type {
		case core.Income:
			t.Income = t.Income.Add(tx.Amount)
		case core.Expense:
			t.Expense = t.Expense.Add(tx.Amount)
		}
	}
	t.Balance = t.Income.Sub(t.Expense)
	t.Empty = t.Income.Cents == 0 && t.Expense.Cents == 0
	return t
}

// DonutSlices returns the Income and Expense segments, or nil when t is empty.
func DonutSlices(t Totals) []Slice {
	if t.Empty {
		return nil
	}
	total := t.Income.Cents + t.Expense.Cents
	return []Slice{
		{Label: string(core.Income), Value: t.Income, Color: IncomeColor, Percent: percent(t.Income.Cents, total)},
		{Label: string(core.Expense), Value: t.Expense, Color: ExpenseColor, Percent: percent(t.Expense.Cents, total)},
	}
}

// CategoryBreakdown sums amounts per category regardless of type and sorts the
// result by value descending. With grouping enabled, categories whose share is
// below the threshold are merged into a single trailing Others slice.
func CategoryBreakdown(txs []core.Transaction, g Grouping) []Slice {
	if len(txs) == 0 {
		return []Slice{}
	}
	sums := make(map[string]int64)
	var order []string
	var total int64
	for _, tx := range txs {
		if _, ok := sums[tx.Category]; !ok {
			order = append(order, tx.Category)
		}
		sums[tx.Category] += tx.Amount.Cents
		total += tx.Amount.Cents
	}
	denom := total
	if denom == 0 {
		denom = 1
	}

	out := make([]Slice, 0, len(order))
	for _, name := range order {
		out = append(out, Slice{
			Label:   name,
			Value:   core.Money{Cents: sums[name]},
			Color:   CategoryColor(name),
			Percent: percent(sums[name], denom),
		})
	}
	sortSlices(out)

	if !g.Enabled {
		return out
	}
	threshold := g.ThresholdPercent
	if threshold <= 0 {
		threshold = DefaultOthersThreshold
	}
	major := make([]Slice, 0, len(out))
	var others int64
	for _, s := range out {
		if float64(s.Value.Cents)*100/float64(denom) < threshold {
			others += s.Value.Cents
			continue
		}
		major = append(major, s)
	}
	if others > 0 {
		major = append(major, Slice{
			Label:   OthersLabel,
			Value:   core.Money{Cents: others},
			Color:   OthersColor,
			Percent: percent(others, denom),
		})
	}
	return major
}

func sortSlices(s []Slice) {
	slices.SortStableFunc(s, func(a, b Slice) int {
		return cmp.Compare(b.Value.Cents, a.Value.Cents)
	})
}

// percent returns part/total*100 rounded to two decimals.
func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	p, _ := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(total), 2).
		Float64()
	return p
}

// CategoryColor derives a stable colour from a category name, so the same
// category is drawn with the same colour on every render.
func CategoryColor(name string) string {
	var hash int32
	for _, u := range utf16.Encode([]rune(name)) {
		hash = int32(u) + ((hash << 5) - hash)
	}
	hue := int(hash % 360)
	if hue < 0 {
		hue += 360
	}
	return fmt.Sprintf("hsl(%d, 65%%, 55%%)", hue)
}
