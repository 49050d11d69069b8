package session

import (
	"fintrack/internal/core"
	"fintrack/internal/dashboard"
)

// StateOptions are presentation hints of the requesting client.
type StateOptions struct {
	// Compact groups minor categories of the pie into "Others".
	Compact bool
}

// State is everything the dashboard shows, derived from the session inputs.
type State struct {
	User    *core.User `json:"user,omitempty"`
	Loading bool       `json:"loading"`
	Error   string     `json:"error,omitempty"`

	Categories    []CategoryOption `json:"categories"`
	AllCategories bool             `json:"all_categories"`
	Filter        FilterState      `json:"filter"`
	Search        SearchState      `json:"search"`
	Banner        dashboard.Banner `json:"banner"`

	Month       MonthState        `json:"month"`
	Summary     SummaryState      `json:"summary"`
	CategoryPie []dashboard.Slice `json:"category_pie"`

	Table TableState `json:"table"`
}

type CategoryOption struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
	Color    string `json:"color"`
}

type FilterState struct {
	Type  dashboard.TypeFilter `json:"type"`
	Sort  dashboard.SortKey    `json:"sort"`
	Start core.Date            `json:"start,omitempty"`
	End   core.Date            `json:"end,omitempty"`
}

type SearchState struct {
	// Input is what was typed; Term is what the table is filtered by.
	Input   string `json:"input"`
	Term    string `json:"term"`
	Pending bool   `json:"pending"`
}

type MonthState struct {
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Count   int    `json:"count"`
	CanPrev bool   `json:"can_prev"`
	CanNext bool   `json:"can_next"`
}

type SummaryState struct {
	dashboard.Totals
	Donut   []dashboard.Slice `json:"donut"`
	Message string            `json:"message,omitempty"`
}

type TableState struct {
	Empty    dashboard.EmptyState `json:"empty,omitempty"`
	Message  string               `json:"message,omitempty"`
	Sections []Section            `json:"sections"`
}

// Section is one month of the table, cut down by the pager.
type Section struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Rows     []Row  `json:"rows"`
	Hidden   int    `json:"hidden"`
	Expanded bool   `json:"expanded"`
}

type Row struct {
	core.Transaction
	DescriptionParts []dashboard.Fragment `json:"description_parts"`
	CategoryParts    []dashboard.Fragment `json:"category_parts"`
}

var emptyMessages = map[dashboard.EmptyState]string{
	dashboard.EmptyNoTransactions: "No transactions yet.",
	dashboard.EmptyNoResults:      "No results found.",
}

// inputs is a copy of the mutable session fields, taken under the lock.
type inputs struct {
	user        core.User
	bound       bool
	loading     bool
	loadErr     string
	txs         []core.Transaction
	categories  []string
	filter      dashboard.Filter
	searchInput string
	searchTerm  string
	pending     bool
	cursor      dashboard.MonthCursor
	pager       *dashboard.GroupPager
	threshold   float64
}

// State recomputes the dashboard from the current inputs.
func (v *View) State(opts StateOptions) State {
	pending := v.search.Pending()
	v.mu.Lock()
	in := inputs{
		user:        v.user,
		bound:       v.bound,
		loading:     v.loading,
		loadErr:     v.loadErr,
		txs:         v.txs,
		categories:  v.categories,
		filter:      v.filter,
		searchInput: v.searchInput,
		searchTerm:  v.searchTerm,
		pending:     pending,
		cursor:      v.cursor,
		pager:       v.pager.Clone(),
		threshold:   v.opts.OthersThreshold,
	}
	in.filter.Categories = v.filter.Categories.Clone()
	v.mu.Unlock()
	return derive(in, opts)
}

func derive(in inputs, opts StateOptions) State {
	st := State{
		Loading:       in.loading,
		Error:         in.loadErr,
		AllCategories: dashboard.AllSelected(in.filter.Categories, in.categories),
		Filter: FilterState{
			Type:  in.filter.Type,
			Sort:  in.filter.Sort,
			Start: in.filter.Start,
			End:   in.filter.End,
		},
		Search: SearchState{Input: in.searchInput, Term: in.searchTerm, Pending: in.pending},
	}
	if in.bound {
		u := in.user
		st.User = &u
	}

	st.Categories = make([]CategoryOption, 0, len(in.categories))
	for _, c := range in.categories {
		st.Categories = append(st.Categories, CategoryOption{
			Name:     c,
			Selected: in.filter.Categories.Has(c),
			Color:    dashboard.CategoryColor(c),
		})
	}

	filtered := dashboard.Apply(in.txs, in.filter)
	st.Banner = dashboard.Summarize(filtered, in.filter, in.categories)

	groups := dashboard.GroupByMonth(filtered)
	cursor := in.cursor.Clamp(len(groups))
	st.Month = MonthState{
		Index:   cursor.Index,
		Label:   cursor.Label(groups),
		Count:   len(groups),
		CanPrev: cursor.CanPrev(),
		CanNext: cursor.CanNext(len(groups)),
	}

	totals := dashboard.Balance(cursor.Scope(groups, filtered))
	st.Summary = SummaryState{Totals: totals, Donut: dashboard.DonutSlices(totals)}
	if totals.Empty {
		st.Summary.Message = dashboard.EmptyChartMessage
	}

	st.CategoryPie = dashboard.CategoryBreakdown(filtered, dashboard.Grouping{
		Enabled:          opts.Compact,
		ThresholdPercent: in.threshold,
	})

	searched := dashboard.Search(filtered, in.searchTerm)
	st.Table.Empty = dashboard.EmptyStateFor(filtered, searched)
	st.Table.Message = emptyMessages[st.Table.Empty]
	st.Table.Sections = make([]Section, 0)
	for _, g := range dashboard.GroupByMonth(searched) {
		page := in.pager.Page(g)
		sec := Section{
			Key:      page.Key,
			Label:    page.Label,
			Hidden:   page.Hidden,
			Expanded: page.Expanded,
			Rows:     make([]Row, 0, len(page.Visible)),
		}
		for _, tx := range page.Visible {
			sec.Rows = append(sec.Rows, Row{
				Transaction:      tx,
				DescriptionParts: dashboard.Highlight(tx.Description, in.searchTerm),
				CategoryParts:    dashboard.Highlight(tx.Category, in.searchTerm),
			})
		}
		st.Table.Sections = append(st.Table.Sections, sec)
	}
	return st
}
