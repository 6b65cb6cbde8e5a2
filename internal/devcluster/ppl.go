package devcluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Clause phases in SQL evaluation order. A command whose phase is not later
// than what the current SELECT already holds starts a new wrapping SELECT.
const (
	phaseWhere = iota + 1
	phaseGroup
	phaseProject
	phaseOrder
	phaseLimit
)

// pplSelect is one SELECT level of a translated PPL pipeline.
type pplSelect struct {
	from    string
	project string
	where   []string
	groupBy []string
	orderBy []string
	limit   string
	phase   int
}

func (s *pplSelect) sql() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.project == "" {
		b.WriteString("*")
	} else {
		b.WriteString(s.project)
	}
	b.WriteString(" FROM ")
	b.WriteString(s.from)
	if len(s.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(s.where, " AND "))
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit != "" {
		b.WriteString(" ")
		b.WriteString(s.limit)
	}
	return b.String()
}

// translatePPL turns a PPL pipeline into a DuckDB SQL statement. Supported
// commands: source, where, fields, eval, stats, sort and head.
func translatePPL(query string) (string, error) {
	stages := splitOutside(strings.TrimSpace(query), '|')
	if len(stages) == 0 {
		return "", fmt.Errorf("empty PPL query")
	}

	table, err := parseSource(stages[0])
	if err != nil {
		return "", err
	}
	cur := &pplSelect{from: table}
	depth := 0
	// next returns the SELECT that may take a clause of the given phase,
	// wrapping the current one when the clause would run too early.
	next := func(phase int, combinable bool) *pplSelect {
		if phase > cur.phase || (combinable && phase == cur.phase) {
			cur.phase = phase
			return cur
		}
		depth++
		cur = &pplSelect{from: "(" + cur.sql() + ") AS t" + strconv.Itoa(depth), phase: phase}
		return cur
	}

	for _, stage := range stages[1:] {
		name, args, _ := strings.Cut(strings.TrimSpace(stage), " ")
		args = strings.TrimSpace(args)
		switch strings.ToLower(name) {
		case "where":
			if args == "" {
				return "", fmt.Errorf("where requires a condition")
			}
			sel := next(phaseWhere, true)
			sel.where = append(sel.where, "("+pplExpr(args)+")")
		case "fields":
			project, err := parseFields(args)
			if err != nil {
				return "", err
			}
			next(phaseProject, false).project = project
		case "eval":
			project, err := parseEval(args)
			if err != nil {
				return "", err
			}
			next(phaseProject, false).project = project
		case "stats":
			project, groupBy, err := parseStats(args)
			if err != nil {
				return "", err
			}
			sel := next(phaseGroup, false)
			sel.project = project
			sel.groupBy = groupBy
			sel.phase = phaseProject
			if len(groupBy) > 0 {
				sel.orderBy = groupBy
				sel.phase = phaseOrder
			}
		case "sort":
			orderBy, err := parseSort(args)
			if err != nil {
				return "", err
			}
			next(phaseOrder, false).orderBy = orderBy
		case "head":
			limit, err := parseHead(args)
			if err != nil {
				return "", err
			}
			next(phaseLimit, false).limit = limit
		default:
			return "", fmt.Errorf("unsupported PPL command %q", name)
		}
	}
	return cur.sql(), nil
}

func parseSource(stage string) (string, error) {
	s := strings.TrimSpace(stage)
	if rest, ok := cutPrefixFold(s, "search "); ok {
		s = strings.TrimSpace(rest)
	}
	rest, ok := cutPrefixFold(s, "source")
	if !ok {
		return "", fmt.Errorf("PPL query must start with source=<index>")
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "=") {
		return "", fmt.Errorf("PPL query must start with source=<index>")
	}
	table := strings.TrimSpace(rest[1:])
	if table == "" {
		return "", fmt.Errorf("source requires an index name")
	}
	return quoteIdent(table), nil
}

func parseFields(args string) (string, error) {
	exclude := false
	switch {
	case strings.HasPrefix(args, "-"):
		exclude = true
		args = args[1:]
	case strings.HasPrefix(args, "+"):
		args = args[1:]
	}
	names := splitOutside(args, ',')
	if len(names) == 0 {
		return "", fmt.Errorf("fields requires at least one field")
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	if exclude {
		return "* EXCLUDE (" + strings.Join(quoted, ", ") + ")", nil
	}
	return strings.Join(quoted, ", "), nil
}

func parseEval(args string) (string, error) {
	assignments := splitOutside(args, ',')
	if len(assignments) == 0 {
		return "", fmt.Errorf("eval requires an assignment")
	}
	cols := []string{"*"}
	for _, a := range assignments {
		name, expr, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(expr) == "" {
			return "", fmt.Errorf("invalid eval assignment %q", a)
		}
		cols = append(cols, pplExpr(strings.TrimSpace(expr))+" AS "+quoteIdent(name))
	}
	return strings.Join(cols, ", "), nil
}

var pplAggregates = map[string]string{
	"count":          "count",
	"sum":            "sum",
	"avg":            "avg",
	"min":            "min",
	"max":            "max",
	"dc":             "count(DISTINCT",
	"distinct_count": "count(DISTINCT",
}

func parseStats(args string) (string, []string, error) {
	aggPart, byPart := args, ""
	if i := lastIndexFold(args, " by "); i >= 0 {
		aggPart, byPart = args[:i], args[i+len(" by "):]
	}

	var project []string
	for _, agg := range splitOutside(aggPart, ',') {
		expr, alias := agg, agg
		if i := lastIndexFold(agg, " as "); i >= 0 {
			expr, alias = strings.TrimSpace(agg[:i]), strings.TrimSpace(agg[i+len(" as "):])
		}
		fn, arg, ok := strings.Cut(expr, "(")
		if !ok || !strings.HasSuffix(arg, ")") {
			return "", nil, fmt.Errorf("invalid aggregation %q", agg)
		}
		arg = strings.TrimSpace(strings.TrimSuffix(arg, ")"))
		sqlFn, known := pplAggregates[strings.ToLower(strings.TrimSpace(fn))]
		if !known {
			return "", nil, fmt.Errorf("unsupported aggregation %q", fn)
		}

		var sqlExpr string
		switch {
		case strings.HasPrefix(sqlFn, "count(DISTINCT"):
			if arg == "" {
				return "", nil, fmt.Errorf("%s requires a field", fn)
			}
			sqlExpr = sqlFn + " " + quoteIdent(arg) + ")"
		case sqlFn == "count" && arg == "":
			sqlExpr = "count(*)"
		default:
			if arg == "" {
				return "", nil, fmt.Errorf("%s requires a field", fn)
			}
			sqlExpr = sqlFn + "(" + pplExpr(arg) + ")"
		}
		project = append(project, sqlExpr+" AS "+quoteIdent(alias))
	}
	if len(project) == 0 {
		return "", nil, fmt.Errorf("stats requires an aggregation")
	}

	var groupBy []string
	for _, f := range splitOutside(byPart, ',') {
		groupBy = append(groupBy, quoteIdent(f))
	}
	return strings.Join(append(project, groupBy...), ", "), groupBy, nil
}

func parseSort(args string) ([]string, error) {
	items := splitOutside(args, ',')
	if len(items) == 0 {
		return nil, fmt.Errorf("sort requires at least one field")
	}
	out := make([]string, len(items))
	for i, item := range items {
		dir := " ASC"
		switch {
		case strings.HasPrefix(item, "-"):
			dir = " DESC"
			item = item[1:]
		case strings.HasPrefix(item, "+"):
			item = item[1:]
		}
		out[i] = quoteIdent(item) + dir
	}
	return out, nil
}

func parseHead(args string) (string, error) {
	size, offset := "10", ""
	if args != "" {
		parts := strings.Fields(args)
		switch {
		case len(parts) == 1:
			size = parts[0]
		case len(parts) == 3 && strings.EqualFold(parts[1], "from"):
			size, offset = parts[0], parts[2]
		default:
			return "", fmt.Errorf("invalid head arguments %q", args)
		}
	}
	if _, err := strconv.ParseUint(size, 10, 32); err != nil {
		return "", fmt.Errorf("invalid head size %q", size)
	}
	limit := "LIMIT " + size
	if offset != "" {
		if _, err := strconv.ParseUint(offset, 10, 32); err != nil {
			return "", fmt.Errorf("invalid head offset %q", offset)
		}
		limit += " OFFSET " + offset
	}
	return limit, nil
}

// pplExpr rewrites PPL expression syntax into SQL: double-quoted strings
// become string literals, backquoted names become identifiers and "==" is
// equality.
func pplExpr(expr string) string {
	var b strings.Builder
	var quote rune
	runes := []rune(expr)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '"' && r == '"':
			quote = 0
			b.WriteRune('\'')
		case quote == '"' && r == '\'':
			b.WriteString("''")
		case quote != 0:
			if r == quote {
				quote = 0
			}
			if r == '`' {
				r = '"'
			}
			b.WriteRune(r)
		case r == '"':
			quote = '"'
			b.WriteRune('\'')
		case r == '\'':
			quote = '\''
			b.WriteRune(r)
		case r == '`':
			quote = '`'
			b.WriteRune('"')
		case r == '=' && i+1 < len(runes) && runes[i+1] == '=':
			b.WriteRune('=')
			i++
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// quoteIdent quotes a possibly backquoted field or index name.
func quoteIdent(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "`")
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// splitOutside splits s on sep outside quotes and parentheses, trimming
// entries and dropping empty ones.
func splitOutside(s string, sep rune) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		depth int
	)
	flush := func() {
		if v := strings.TrimSpace(cur.String()); v != "" {
			out = append(out, v)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case r == sep && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func lastIndexFold(s, substr string) int {
	return strings.LastIndex(strings.ToLower(s), strings.ToLower(substr))
}
