package devcluster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// timestampLayout is the timestamp rendering of the SQL and PPL plugins.
const timestampLayout = "2006-01-02 15:04:05"

// column is one entry of a tabular schema.
type column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// tabular is a query result in the plugins' schema/datarows layout.
type tabular struct {
	Schema   []column `json:"schema"`
	Datarows [][]any  `json:"datarows"`
	Total    int      `json:"total"`
	Size     int      `json:"size"`
}

// runQuery executes query and collects every row.
func runQuery(ctx context.Context, db *sql.DB, query string) (*tabular, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := &tabular{Schema: make([]column, len(types)), Datarows: [][]any{}}
	for i, ct := range types {
		out.Schema[i] = column{Name: ct.Name(), Type: pluginType(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = jsonValue(v)
		}
		out.Datarows = append(out.Datarows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out.Total = len(out.Datarows)
	out.Size = len(out.Datarows)
	return out, nil
}

// viz renders the result column-oriented, as the SQL plugin does for
// format=viz.
func (t *tabular) viz() map[string]any {
	data := make(map[string][]any, len(t.Schema))
	for c, col := range t.Schema {
		values := make([]any, len(t.Datarows))
		for r, row := range t.Datarows {
			values[r] = row[c]
		}
		data[col.Name] = values
	}
	return map[string]any{
		"data":     data,
		"metadata": map[string]any{"fields": t.Schema},
		"size":     t.Size,
		"total":    t.Total,
	}
}

// pluginType maps a DuckDB type name to the type names the SQL plugin
// reports.
func pluginType(dbType string) string {
	base, _, _ := strings.Cut(strings.ToUpper(dbType), "(")
	switch base {
	case "TINYINT", "SMALLINT", "INTEGER", "UTINYINT", "USMALLINT":
		return "integer"
	case "BIGINT", "UINTEGER", "UBIGINT", "HUGEINT", "UHUGEINT":
		return "long"
	case "FLOAT":
		return "float"
	case "DOUBLE", "DECIMAL":
		return "double"
	case "BOOLEAN":
		return "boolean"
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP_NS", "TIMESTAMP_MS", "TIMESTAMP_S":
		return "timestamp"
	case "VARCHAR", "UUID", "ENUM":
		return "string"
	case "STRUCT", "MAP":
		return "object"
	default:
		if strings.HasSuffix(base, "[]") {
			return "array"
		}
		return "string"
	}
}

// jsonValue converts a scanned DuckDB value into something encoding/json
// renders the way the plugins do.
func jsonValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int8, int16, int32, int64, int, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case time.Time:
		return t.UTC().Format(timestampLayout)
	case []byte:
		return string(t)
	case *big.Int:
		if t.IsInt64() {
			return t.Int64()
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonValue(e)
		}
		return out
	case fmt.Stringer:
		return t.String()
	default:
		if _, err := json.Marshal(t); err != nil {
			return fmt.Sprint(t)
		}
		return t
	}
}
