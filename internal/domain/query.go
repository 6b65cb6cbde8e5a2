package domain

import "time"

// Language identifies the query language a strategy accepts.
type Language string

// Supported query languages.
const (
	LanguageSQL    Language = "SQL"
	LanguagePPL    Language = "PPL"
	LanguagePromQL Language = "PROMQL"
)

// Lang returns the lowercase tag the backend expects in the "lang" body field.
func (l Language) Lang() string {
	switch l {
	case LanguageSQL:
		return "sql"
	case LanguagePPL:
		return "ppl"
	case LanguagePromQL:
		return "promql"
	default:
		return ""
	}
}

// DatasetType discriminates datasets. It drives strategy selection and
// cancellation routing.
type DatasetType string

// Known dataset types. An empty type is treated as DatasetTypeDefault.
const (
	DatasetTypeDefault    DatasetType = "INDEX_PATTERN"
	DatasetTypeIndex      DatasetType = "INDEXES"
	DatasetTypeS3         DatasetType = "S3"
	DatasetTypeCloudWatch DatasetType = "CLOUDWATCH"
	DatasetTypePrometheus DatasetType = "PROMETHEUS"
)

// DataSourceRef names an external backend connection. A dataset without one
// targets the local cluster.
type DataSourceRef struct {
	ID    string         `json:"id"`
	Title string         `json:"title,omitempty"`
	Type  string         `json:"type,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Dataset is the target of a query.
type Dataset struct {
	ID            string         `json:"id,omitempty"`
	Title         string         `json:"title,omitempty"`
	Type          DatasetType    `json:"type,omitempty"`
	TimeFieldName string         `json:"timeFieldName,omitempty"`
	DataSource    *DataSourceRef `json:"dataSource,omitempty"`
}

// Query is a user-authored request. It is not modified once handed to a
// strategy.
type Query struct {
	Query    string   `json:"query"`
	Language Language `json:"language,omitempty"`
	Dataset  *Dataset `json:"dataset,omitempty"`
}

// DatasetID returns the dataset id or "" when the query has no dataset.
func (q Query) DatasetID() string {
	if q.Dataset == nil {
		return ""
	}
	return q.Dataset.ID
}

// DataSourceID returns the external data source id or "" for the local cluster.
func (q Query) DataSourceID() string {
	if q.Dataset == nil || q.Dataset.DataSource == nil {
		return ""
	}
	return q.Dataset.DataSource.ID
}

// DataSourceTitle returns the external data source title, if any.
func (q Query) DataSourceTitle() string {
	if q.Dataset == nil || q.Dataset.DataSource == nil {
		return ""
	}
	return q.Dataset.DataSource.Title
}

// DatasetType returns the dataset type; a missing dataset or empty type
// yields "".
func (q Query) DatasetType() DatasetType {
	if q.Dataset == nil {
		return ""
	}
	return q.Dataset.Type
}

// QueryStatusConfig is the opaque job handle returned by a submit call and
// threaded through every later poll and cancel call.
type QueryStatusConfig struct {
	QueryID        string `json:"queryId"`
	SessionID      string `json:"sessionId,omitempty"`
	DataSourceName string `json:"dataSourceName,omitempty"`
	DataSourceID   string `json:"dataSourceId,omitempty"`
}

// PollParams identifies a running job on a follow-up search call.
type PollParams struct {
	QueryID   string `json:"queryId"`
	SessionID string `json:"sessionId,omitempty"`
}

// TimeRange bounds a time-series query.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SearchRequest is the body a caller hands to a strategy.
type SearchRequest struct {
	Query                  Query       `json:"query"`
	Format                 string      `json:"format,omitempty"`
	Lang                   string      `json:"lang,omitempty"`
	SessionID              string      `json:"sessionId,omitempty"`
	DataSourceID           string      `json:"dataSourceId,omitempty"`
	PollQueryResultsParams *PollParams `json:"pollQueryResultsParams,omitempty"`
	DF                     *DataFrame  `json:"df,omitempty"`
	TimeRange              *TimeRange  `json:"timeRange,omitempty"`
}

// InProgressQueryID returns the job id carried by a poll request, or "".
func (r *SearchRequest) InProgressQueryID() string {
	if r.PollQueryResultsParams == nil {
		return ""
	}
	return r.PollQueryResultsParams.QueryID
}

// MetaDataSourceID returns the data source id recorded in the previous
// frame's polling config, or "".
func (r *SearchRequest) MetaDataSourceID() string {
	if r.DF == nil || r.DF.Meta == nil || r.DF.Meta.QueryConfig == nil {
		return ""
	}
	return r.DF.Meta.QueryConfig.DataSourceID
}

// SearchOptions carries per-call options that are not part of the request body.
type SearchOptions struct {
	AbortSignal *AbortSignal
}
