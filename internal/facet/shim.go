package facet

import (
	"encoding/json"
	"strconv"
)

// FormatViz is the column-oriented format of the SQL plugin.
const FormatViz = "viz"

// Shim normalises a raw backend payload by its declared format. Unknown
// formats and payloads that do not have the expected shape pass through
// unchanged.
func Shim(format string, raw json.RawMessage) json.RawMessage {
	var (
		out json.RawMessage
		ok  bool
	)
	switch format {
	case FormatJDBC:
		out, ok = shimSchemaRow(raw)
	case FormatViz:
		out, ok = shimStats(raw)
	}
	if !ok {
		return raw
	}
	return out
}

// shimSchemaRow adds a jsonData array of name-keyed records to a
// schema/datarows payload. Object cells are JSON-encoded and booleans
// stringified so every record value is a scalar.
func shimSchemaRow(raw json.RawMessage) (json.RawMessage, bool) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	var schema []struct {
		Name string `json:"name"`
	}
	var rows [][]any
	if err := json.Unmarshal(payload["schema"], &schema); err != nil {
		return nil, false
	}
	if err := json.Unmarshal(payload["datarows"], &rows); err != nil {
		return nil, false
	}

	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		record := make(map[string]any, len(schema))
		for j, cell := range row {
			if j >= len(schema) {
				break
			}
			record[schema[j].Name] = scalar(cell)
		}
		records[i] = record
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, false
	}
	payload["jsonData"] = encoded
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return out, true
}

func scalar(v any) any {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

type vizPayload struct {
	Data     map[string][]any `json:"data"`
	Metadata *struct {
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"fields"`
	} `json:"metadata"`
	Size  *int `json:"size"`
	Total *int `json:"total"`
}

// shimStats pivots a column-oriented {data:{col:[...]}, metadata:{fields}}
// payload into schema/datarows.
func shimStats(raw json.RawMessage) (json.RawMessage, bool) {
	var in vizPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, false
	}
	if in.Data == nil || in.Metadata == nil || len(in.Metadata.Fields) == 0 {
		return nil, false
	}

	schema := make([]map[string]string, len(in.Metadata.Fields))
	rowCount := 0
	for i, f := range in.Metadata.Fields {
		schema[i] = map[string]string{"name": f.Name, "type": f.Type}
		if n := len(in.Data[f.Name]); n > rowCount {
			rowCount = n
		}
	}

	rows := make([][]any, rowCount)
	for r := range rows {
		row := make([]any, len(in.Metadata.Fields))
		for c, f := range in.Metadata.Fields {
			if col := in.Data[f.Name]; r < len(col) {
				row[c] = col[r]
			}
		}
		rows[r] = row
	}

	size, total := rowCount, rowCount
	if in.Size != nil {
		size = *in.Size
	}
	if in.Total != nil {
		total = *in.Total
	}
	out, err := json.Marshal(map[string]any{
		"schema":   schema,
		"datarows": rows,
		"size":     size,
		"total":    total,
	})
	if err != nil {
		return nil, false
	}
	return out, true
}
