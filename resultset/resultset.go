// Package resultset normalizes backend rows into (columns, rows) pairs
// that satisfy the wire codec's invariants: names non-empty, unique,
// and matching arity with the row data. Every adjustment it makes is
// reported to the caller as a Warning; none of them are fatal.
package resultset

import (
	"fmt"
	"strings"
)

// Warning describes one adjustment the adapter made while normalizing
// a result, for structured logging by the caller.
type Warning struct {
	Reason string
	Detail string
}

// Result is the normalized (columns, rows) pair ready for wire
// encoding.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Adapt normalizes columns against rows, applying arity correction,
// NULL/empty name renaming, and duplicate-name disambiguation in that
// order. It never drops or reorders row data; it only adjusts the
// column name list and, when padding is required, appends nil cells.
func Adapt(columns []string, rows [][]any) (*Result, []Warning) {
	var warnings []Warning

	rowWidth := len(columns)
	if len(rows) > 0 {
		rowWidth = len(rows[0])
	}

	columns, w := fixArity(columns, rowWidth)
	warnings = append(warnings, w...)

	rows, w = padRows(rows, len(columns))
	warnings = append(warnings, w...)

	columns, w = renameNullAndEmpty(columns)
	warnings = append(warnings, w...)

	columns, w = disambiguateDuplicates(columns)
	warnings = append(warnings, w...)

	return &Result{Columns: columns, Rows: rows}, warnings
}

func fixArity(columns []string, rowWidth int) ([]string, []Warning) {
	var warnings []Warning
	switch {
	case len(columns) < rowWidth:
		for i := len(columns); i < rowWidth; i++ {
			name := fmt.Sprintf("column_%d", i+1)
			warnings = append(warnings, Warning{
				Reason: "arity-pad",
				Detail: fmt.Sprintf("padded missing column name at position %d with %q", i+1, name),
			})
			columns = append(columns, name)
		}
	case len(columns) > rowWidth:
		warnings = append(warnings, Warning{
			Reason: "arity-truncate",
			Detail: fmt.Sprintf("truncated column list from %d to %d to match row width", len(columns), rowWidth),
		})
		columns = columns[:rowWidth]
	}
	return columns, warnings
}

func padRows(rows [][]any, width int) ([][]any, []Warning) {
	var warnings []Warning
	for i, row := range rows {
		if len(row) >= width {
			continue
		}
		padded := make([]any, width)
		copy(padded, row)
		rows[i] = padded
		warnings = append(warnings, Warning{
			Reason: "row-pad",
			Detail: fmt.Sprintf("padded row %d from width %d to %d with NULLs", i, len(row), width),
		})
	}
	return rows, warnings
}

func renameNullAndEmpty(columns []string) ([]string, []Warning) {
	var warnings []Warning
	for i, name := range columns {
		trimmed := strings.TrimSpace(name)
		switch {
		case strings.EqualFold(trimmed, "NULL"):
			newName := fmt.Sprintf("expr_%d", i+1)
			warnings = append(warnings, Warning{
				Reason: "null-name",
				Detail: fmt.Sprintf("renamed NULL column name at position %d to %q", i+1, newName),
			})
			columns[i] = newName
		case trimmed == "":
			newName := fmt.Sprintf("column_%d", i+1)
			warnings = append(warnings, Warning{
				Reason: "empty-name",
				Detail: fmt.Sprintf("renamed empty column name at position %d to %q", i+1, newName),
			})
			columns[i] = newName
		}
	}
	return columns, warnings
}

func disambiguateDuplicates(columns []string) ([]string, []Warning) {
	var warnings []Warning
	seen := make(map[string]int)
	for i, name := range columns {
		count := seen[name]
		seen[name] = count + 1
		if count == 0 {
			continue
		}
		newName := fmt.Sprintf("%s_%d", name, count+1)
		warnings = append(warnings, Warning{
			Reason: "duplicate-name",
			Detail: fmt.Sprintf("disambiguated duplicate column %q at position %d to %q", name, i+1, newName),
		})
		columns[i] = newName
	}
	return columns, warnings
}
