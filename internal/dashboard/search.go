package dashboard

import (
	"strings"
	"unicode/utf8"

	"fintrack/internal/core"
)

// EmptyState tells the table which placeholder to show, if any.
type EmptyState string

const (
	EmptyNone           EmptyState = ""
	EmptyNoTransactions EmptyState = "no_transactions"
	EmptyNoResults      EmptyState = "no_results"
)

// Fragment is a piece of a highlighted text field.
type Fragment struct {
	Text  string `json:"text"`
	Match bool   `json:"match"`
}

// Search returns the transactions whose description or category contains term,
// ignoring case. An empty term returns txs unchanged.
func Search(txs []core.Transaction, term string) []core.Transaction {
	if term == "" {
		return txs
	}
	needle := strings.ToLower(term)
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if strings.Contains(strings.ToLower(tx.Description), needle) ||
			strings.Contains(strings.ToLower(tx.Category), needle) {
			out = append(out, tx)
		}
	}
	return out
}

// EmptyStateFor distinguishes "No transactions yet" (nothing before the search)
// from "No results found" (the search removed everything).
func EmptyStateFor(beforeSearch, afterSearch []core.Transaction) EmptyState {
	switch {
	case len(beforeSearch) == 0:
		return EmptyNoTransactions
	case len(afterSearch) == 0:
		return EmptyNoResults
	}
	return EmptyNone
}

// Highlight splits text around every case-insensitive occurrence of term.
// Fragments keep the original casing of text. An empty term yields a single
// non-matching fragment.
func Highlight(text, term string) []Fragment {
	if term == "" || text == "" {
		return []Fragment{{Text: text}}
	}
	termRunes := utf8.RuneCountInString(term)

	var out []Fragment
	last := 0
	for i := 0; i < len(text); {
		end, ok := foldPrefix(text[i:], term, termRunes)
		if ok {
			if i > last {
				out = append(out, Fragment{Text: text[last:i]})
			}
			out = append(out, Fragment{Text: text[i : i+end], Match: true})
			i += end
			last = i
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if last < len(text) {
		out = append(out, Fragment{Text: text[last:]})
	}
	return out
}

// foldPrefix reports whether the first n runes of s equal term under Unicode
// case folding, returning their byte length.
func foldPrefix(s, term string, n int) (int, bool) {
	end := 0
	for r := 0; r < n; r++ {
		if end >= len(s) {
			return 0, false
		}
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	if !strings.EqualFold(s[:end], term) {
		return 0, false
	}
	return end, true
}
