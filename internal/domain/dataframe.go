package domain

// DataFrameType tags a serialized DataFrame.
const DataFrameType = "data_frame"

// SchemaField describes one column of a DataFrame.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Field is a column of a DataFrame with its values.
type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Values []any  `json:"values"`
}

// InstantData is the latest-timestamp view of a time-series frame.
type InstantData struct {
	Schema []SchemaField     `json:"schema"`
	Rows   []map[string]any `json:"rows"`
}

// QueryError records one failed query of a multi-query request.
type QueryError struct {
	Query string `json:"query"`
	Error string `json:"error"`
}

// MultiQueryMeta summarises a multi-query request.
type MultiQueryMeta struct {
	QueryCount   int          `json:"queryCount"`
	SuccessCount int          `json:"successCount"`
	QueryLabels  []string     `json:"queryLabels"`
	Errors       []QueryError `json:"errors"`
}

// FrameMeta carries strategy-specific metadata alongside a DataFrame.
type FrameMeta struct {
	QueryConfig *QueryStatusConfig `json:"queryConfig,omitempty"`
	InstantData *InstantData       `json:"instantData,omitempty"`
	MultiQuery  *MultiQueryMeta    `json:"multiQuery,omitempty"`
}

// DataFrame is the canonical tabular result produced by every strategy.
// Size always equals the row count and every field holds exactly Size values.
type DataFrame struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Schema []SchemaField `json:"schema"`
	Fields []Field       `json:"fields"`
	Size   int           `json:"size"`
	Meta   *FrameMeta    `json:"meta,omitempty"`
}

// NewDataFrame builds a frame from a schema and row-oriented data. Rows
// shorter than the schema are padded with nil and extra cells are dropped.
func NewDataFrame(name string, schema []SchemaField, rows [][]any) *DataFrame {
	if schema == nil {
		schema = []SchemaField{}
	}
	fields := make([]Field, len(schema))
	for i, col := range schema {
		values := make([]any, len(rows))
		for r, row := range rows {
			if i < len(row) {
				values[r] = row[i]
			}
		}
		fields[i] = Field{Name: col.Name, Type: col.Type, Values: values}
	}
	return &DataFrame{
		Type:   DataFrameType,
		Name:   name,
		Schema: schema,
		Fields: fields,
		Size:   len(rows),
	}
}
