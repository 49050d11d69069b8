package google

import (
	"fmt"
	"strings"

	"fintrack/internal/core"

	"github.com/shopspring/decimal"
)

// parseSnapshot converts a values matrix (as returned by the Sheets API) back
// into transactions. Columns are located by header so that reordered sheets
// still parse; rows without an ID are skipped.
func parseSnapshot(values [][]any) ([]core.Transaction, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := toStrings(values[0])
	cols := make(map[string]int, len(header))
	var missing []string
	for _, h := range header {
		i := indexOf(headers, h)
		if i == -1 {
			missing = append(missing, h)
		}
		cols[h] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unexpected sheet header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	var out []core.Transaction
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		id := safeGet(row, cols["ID"])
		if id == "" {
			continue
		}
		amount, err := parseAmountCell(safeGet(row, cols["Amount"]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, core.Transaction{
			ID:          id,
			Description: safeGet(row, cols["Description"]),
			Amount:      amount,
			Type:        core.TransactionType(safeGet(row, cols["Type"])),
			Category:    safeGet(row, cols["Category"]),
			Date:        core.Date(safeGet(row, cols["Date"])),
		})
	}
	return out, nil
}

// parseAmountCell accepts numbers in either decimal notation.
func parseAmountCell(s string) (core.Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("invalid amount %q", s)
	}
	return core.Money{Cents: d.Shift(2).Round(0).IntPart()}, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
