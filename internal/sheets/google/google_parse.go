package google

import (
	"fmt"
	"strings"

	ports "planalloc/internal/sheets"
)

// matchingRows returns the 1-based sheet rows whose first cell equals id.
func matchingRows(values [][]interface{}, id string) []int {
	var rows []int
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			rows = append(rows, i+1)
		}
	}
	return rows
}

// rowRanges groups consecutive rows into A1 ranges spanning the exported columns.
func rowRanges(sheet string, rows []int) []string {
	last := columnName(len(ports.Header))
	var out []string
	for i := 0; i < len(rows); {
		j := i
		for j+1 < len(rows) && rows[j+1] == rows[j]+1 {
			j++
		}
		out = append(out, fmt.Sprintf("%s!A%d:%s%d", sheet, rows[i], last, rows[j]))
		i = j + 1
	}
	return out
}

// columnName converts a 1-based column index to its letters (1 -> A, 27 -> AA).
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

func toRow(cells []string) []any {
	out := make([]any, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
