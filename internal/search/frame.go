package search

import (
	"bytes"
	"encoding/json"
	"fmt"

	"query-enhancements/internal/domain"
)

// tabularResult is the schema/datarows payload the SQL and PPL plugins return
// for synchronous queries and for finished async jobs.
type tabularResult struct {
	Status   string               `json:"status"`
	Error    json.RawMessage      `json:"error"`
	Schema   []domain.SchemaField `json:"schema"`
	Datarows [][]any              `json:"datarows"`
}

func decodeTabular(raw json.RawMessage) (*tabularResult, error) {
	var out tabularResult
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}
	for _, row := range out.Datarows {
		for i, v := range row {
			row[i] = normalizeNumber(v)
		}
	}
	return &out, nil
}

// errorText renders the job error field, which backends send either as a
// string or as an object.
func (r *tabularResult) errorText() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(r.Error, &obj); err == nil {
		if obj.Details != "" {
			return obj.Details
		}
		if obj.Reason != "" {
			return obj.Reason
		}
	}
	return string(r.Error)
}

// frame builds the DataFrame; its size is the datarows length.
func (r *tabularResult) frame(name string) *domain.DataFrame {
	return domain.NewDataFrame(name, r.Schema, r.Datarows)
}

// normalizeNumber keeps integers exact and turns other numbers into float64.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
