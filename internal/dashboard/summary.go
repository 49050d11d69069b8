package dashboard

import "fintrack/internal/core"

// Banner describes the "Showing total" strip above the table. It is only
// visible while the filter narrows the list by category or date.
type Banner struct {
	Visible bool `json:"visible"`
	// SelectedCategories is set when the selection is partial.
	SelectedCategories int       `json:"selected_categories,omitempty"`
	Start              core.Date `json:"start,omitempty"`
	End                core.Date `json:"end,omitempty"`
	// Total is the plain sum of the filtered amounts, regardless of type.
	Total core.Money `json:"total"`
}

// Summarize builds the banner for the filtered list.
func Summarize(filtered []core.Transaction, f Filter, categories []string) Banner {
	partial := f.Categories.Len() != len(categories)
	b := Banner{Visible: partial || f.HasDateRange()}
	if !b.Visible {
		return b
	}
	if partial {
		b.SelectedCategories = f.Categories.Len()
	}
	if !f.Start.IsZero() && !f.End.IsZero() {
		b.Start, b.End = f.Start, f.End
	}
	for _, tx := range filtered {
		b.Total = b.Total.Add(tx.Amount)
	}
	return b
}
