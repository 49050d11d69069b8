package dashboard

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

// AllTime is the cursor position that disables month scoping.
const AllTime = -1

// DefaultPageSize is how many rows a month section shows before expanding.
const DefaultPageSize = 4

// MonthGroup holds the transactions of one calendar month.
type MonthGroup struct {
	Key          string             `json:"key"`
	Label        string             `json:"label"`
	Transactions []core.Transaction `json:"transactions"`
}

// GroupByMonth buckets txs by the YYYY-MM prefix of their date. Groups are
// ordered newest month first, members newest first; members sharing a date
// keep their input order.
func GroupByMonth(txs []core.Transaction) []MonthGroup {
	index := make(map[string]int)
	var groups []MonthGroup
	for _, tx := range txs {
		key := tx.Date.MonthKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, MonthGroup{Key: key, Label: MonthLabel(key)})
		}
		groups[i].Transactions = append(groups[i].Transactions, tx)
	}
	slices.SortFunc(groups, func(a, b MonthGroup) int {
		return strings.Compare(b.Key, a.Key)
	})
	for i := range groups {
		SortTransactions(groups[i].Transactions, SortDateDesc)
	}
	return groups
}

// MonthLabel renders a YYYY-MM key as "Jan 2025". Malformed keys are returned
// unchanged.
func MonthLabel(key string) string {
	year, month, ok := strings.Cut(key, "-")
	if !ok {
		return key
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return key
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return key
	}
	return fmt.Sprintf("%s %d", time.Month(m).String()[:3], y)
}

// SwipeDirection is a horizontal gesture on the month card.
type SwipeDirection string

const (
	// SwipeLeft moves toward older months, like the "next" button.
	SwipeLeft SwipeDirection = "left"
	// SwipeRight moves toward newer months and "All time", like "previous".
	SwipeRight SwipeDirection = "right"
)

// MonthCursor selects All time (-1) or a month group (0 is the newest).
// The zero value points at month 0; use NewMonthCursor for All time.
type MonthCursor struct {
	Index int `json:"index"`
}

func NewMonthCursor() MonthCursor {
	return MonthCursor{Index: AllTime}
}

// Prev moves toward more recent months and finally All time.
func (c MonthCursor) Prev() MonthCursor {
	return MonthCursor{Index: max(c.Index-1, AllTime)}
}

// Next moves toward older months. It is a no-op with no groups.
func (c MonthCursor) Next(groupCount int) MonthCursor {
	if groupCount <= 0 {
		return c.Clamp(groupCount)
	}
	return MonthCursor{Index: min(c.Index+1, groupCount-1)}
}

// Swipe applies a gesture with the same semantics as the buttons.
func (c MonthCursor) Swipe(dir SwipeDirection, groupCount int) MonthCursor {
	switch dir {
	case SwipeLeft:
		return c.Next(groupCount)
	case SwipeRight:
		return c.Prev()
	}
	return c
}

// Clamp keeps the cursor inside [-1, groupCount-1] after the groups changed.
func (c MonthCursor) Clamp(groupCount int) MonthCursor {
	idx := min(c.Index, groupCount-1)
	return MonthCursor{Index: max(idx, AllTime)}
}

func (c MonthCursor) IsAllTime() bool {
	return c.Index == AllTime
}

// CanPrev and CanNext drive the enabled state of the navigation buttons.
func (c MonthCursor) CanPrev() bool {
	return c.Index > AllTime
}

func (c MonthCursor) CanNext(groupCount int) bool {
	return groupCount > 0 && c.Index < groupCount-1
}

// Scope returns the transactions the summary should use: all of them for All
// time, otherwise the selected month (empty if the index is out of range).
func (c MonthCursor) Scope(groups []MonthGroup, all []core.Transaction) []core.Transaction {
	if c.IsAllTime() {
		return all
	}
	if c.Index < 0 || c.Index >= len(groups) {
		return nil
	}
	return groups[c.Index].Transactions
}

// Label names the current position.
func (c MonthCursor) Label(groups []MonthGroup) string {
	if c.IsAllTime() {
		return "All time"
	}
	if c.Index < 0 || c.Index >= len(groups) {
		return "No data"
	}
	return groups[c.Index].Label
}

// GroupPager tracks which month sections of the table are expanded.
type GroupPager struct {
	PageSize int
	expanded map[string]bool
}

func NewGroupPager(pageSize int) *GroupPager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &GroupPager{PageSize: pageSize, expanded: make(map[string]bool)}
}

// Toggle flips the expanded state of a group and returns the new state.
func (p *GroupPager) Toggle(key string) bool {
	if p.expanded == nil {
		p.expanded = make(map[string]bool)
	}
	p.expanded[key] = !p.expanded[key]
	return p.expanded[key]
}

func (p *GroupPager) Expanded(key string) bool {
	return p.expanded[key]
}

// Clone returns an independent copy of p.
func (p *GroupPager) Clone() *GroupPager {
	c := &GroupPager{PageSize: p.PageSize, expanded: make(map[string]bool, len(p.expanded))}
	for k, v := range p.expanded {
		if v {
			c.expanded[k] = true
		}
	}
	return c
}

// Reset collapses every group.
func (p *GroupPager) Reset() {
	p.expanded = make(map[string]bool)
}

// Page is one month section of the transaction table.
type Page struct {
	Key      string             `json:"key"`
	Label    string             `json:"label"`
	Visible  []core.Transaction `json:"visible"`
	Hidden   int                `json:"hidden"`
	Expanded bool               `json:"expanded"`
}

// Page cuts a group down to the rows that should be shown.
func (p *GroupPager) Page(g MonthGroup) Page {
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	page := Page{Key: g.Key, Label: g.Label, Expanded: p.Expanded(g.Key), Visible: g.Transactions}
	if !page.Expanded && len(g.Transactions) > size {
		page.Visible = g.Transactions[:size]
		page.Hidden = len(g.Transactions) - size
	}
	return page
}
