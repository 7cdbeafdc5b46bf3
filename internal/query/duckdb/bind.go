package duckdb

import (
	"fmt"
	"strings"

	"github.com/trendrbot/trendrbot/internal/query"
)

// bindParams rewrites BigQuery-dialect text for DuckDB: `quoted` identifiers
// become "quoted" and each @name placeholder becomes a positional ? whose
// value is appended to args. Single- and double-quoted text is copied
// untouched.
func bindParams(sqlText string, params []query.Param) (string, []any, error) {
	values := make(map[string]any, len(params))
	for _, param := range params {
		values[param.Name] = param.Value
	}

	var out strings.Builder
	args := make([]any, 0, len(params))
	for i := 0; i < len(sqlText); {
		ch := sqlText[i]
		switch {
		case ch == '\'' || ch == '"':
			end := closingQuote(sqlText, i, ch)
			out.WriteString(sqlText[i:end])
			i = end
		case ch == '`':
			end := strings.IndexByte(sqlText[i+1:], '`')
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated quoted identifier at offset %d", i)
			}
			out.WriteString(quoteIdent(sqlText[i+1 : i+1+end]))
			i += end + 2
		case ch == '@' && i+1 < len(sqlText) && isIdentStart(sqlText[i+1]):
			j := i + 1
			for j < len(sqlText) && isIdentPart(sqlText[j]) {
				j++
			}
			name := sqlText[i+1 : j]
			value, ok := values[name]
			if !ok {
				return "", nil, fmt.Errorf("no value bound for parameter @%s", name)
			}
			out.WriteByte('?')
			args = append(args, value)
			i = j
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String(), args, nil
}

// closingQuote returns the index just past the literal opened at start,
// treating a doubled quote as an escape.
func closingQuote(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
