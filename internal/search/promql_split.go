package search

import "strings"

// SplitQueries splits a PromQL request on ';' separators that sit outside
// quoted strings. Empty statements are dropped.
func SplitQueries(input string) []string {
	var (
		out     []string
		current strings.Builder
		quote   rune
		escaped bool
	)
	flush := func() {
		if q := strings.TrimSpace(current.String()); q != "" {
			out = append(out, q)
		}
		current.Reset()
	}

	for _, r := range input {
		switch {
		case escaped:
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\'' || r == '`'):
			quote = r
		case quote == 0 && r == ';':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

// QueryLabel returns the spreadsheet-style label of the i-th query: A..Z,
// then AA, AB, ...
func QueryLabel(i int) string {
	label := ""
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		label = string(rune('A'+(n-1)%26)) + label
	}
	return label
}
