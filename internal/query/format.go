package query

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const DefaultCharBudget = 500000

// Format renders result as a header line of column names followed by one
// comma-joined line per row, in engine order. Output is cut at budget runes,
// possibly mid-value. The returned flag reports whether anything was cut.
func Format(result Result, budget int) (string, bool) {
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	w := &budgetWriter{remaining: budget}
	w.writeString(strings.Join(result.Columns, ", "))
	for index, row := range result.Rows {
		if w.full() {
			w.truncated = true
			break
		}
		if index > 0 || len(result.Columns) > 0 {
			w.writeString("\n")
		}
		for i, value := range row {
			if i > 0 {
				w.writeString(", ")
			}
			w.writeString(formatValue(value))
		}
	}
	return w.b.String(), w.truncated
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []byte:
		return string(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}

type budgetWriter struct {
	b         strings.Builder
	remaining int
	truncated bool
}

func (w *budgetWriter) full() bool {
	return w.remaining <= 0
}

func (w *budgetWriter) writeString(s string) {
	if s == "" {
		return
	}
	if w.remaining <= 0 {
		w.truncated = true
		return
	}
	count := utf8.RuneCountInString(s)
	if count <= w.remaining {
		w.b.WriteString(s)
		w.remaining -= count
		return
	}
	cut := 0
	for i := range s {
		if cut == w.remaining {
			w.b.WriteString(s[:i])
			break
		}
		cut++
	}
	w.remaining = 0
	w.truncated = true
}
