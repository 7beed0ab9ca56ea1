package google

import (
	"fmt"
	"sort"
	"strings"

	ports "saldo/internal/sheets"
)

// entryValues lays a row out as columns A..H.
func entryValues(r ports.EntryRow) []any {
	return []any{
		r.EntryID,
		r.UserID,
		r.Kind,
		r.Date.String(),
		r.Amount.String(),
		r.Category,
		r.Label,
		r.Notes,
	}
}

// parseIndex maps entry ids in column A to their 1-based row numbers and
// reports how many rows the column spans. The header row and blank cells
// take up rows but are not indexed.
func parseIndex(values [][]any) (map[string]int, int) {
	index := make(map[string]int, len(values))
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) == 0 {
			continue
		}
		id := cols[0]
		if id == "" || (i == 0 && strings.EqualFold(id, "entry_id")) {
			continue
		}
		if _, dup := index[id]; dup {
			// first occurrence wins
			continue
		}
		index[id] = i + 1
	}
	return index, len(values)
}

func sortByRow(ids []string, index map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return index[ids[i]] < index[ids[j]] })
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
