package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"golang.org/x/sync/errgroup"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/facet"
	"query-enhancements/internal/transport"
)

const (
	// MaxSeries caps the series kept across all queries of one request.
	MaxSeries = 2000
	// stepDivisor is how many points a derived step aims for.
	stepDivisor = 250
	// defaultPromQLRange applies when the request carries no time range.
	defaultPromQLRange = time.Hour
)

// Column names of the PromQL frames.
const (
	colTime   = "Time"
	colSeries = "Series"
	colValue  = "Value"
	colMetric = "Metric"
)

var _ Strategy = (*PromQLStrategy)(nil)

// PromQLStrategy runs one or more PromQL range queries and pivots the label
// matrices into a (Time, Series, Value) frame plus an instant view holding the
// latest sample of every series.
type PromQLStrategy struct {
	base
	client describer
	now    func() time.Time
}

// NewPromQLStrategy creates the PromQL strategy.
func NewPromQLStrategy(cfg Config, logger *slog.Logger, backend Backend, usage domain.SearchUsage) *PromQLStrategy {
	b := newBase(StrategyPromQL, "promqlSearchStrategy", cfg, logger, usage)
	s := &PromQLStrategy{base: b, now: time.Now}
	s.client = facet.New(facet.Config{
		Router:      backend,
		Logger:      b.logger,
		Endpoint:    transport.EndpointPromQLQuery,
		BuildParams: s.requestParams,
	})
	return s
}

// promQLResponse is the direct-query plugin's answer.
type promQLResponse struct {
	QueryID   string                     `json:"queryId"`
	SessionID string                     `json:"sessionId"`
	Results   map[string]promQLResultSet `json:"results"`
}

type promQLResultSet struct {
	ResultType string         `json:"resultType"`
	Result     []promQLSeries `json:"result"`
}

type promQLSeries struct {
	Metric model.Metric        `json:"metric"`
	Values [][]json.RawMessage `json:"values"`
	Value  []json.RawMessage   `json:"value"`
}

// sample is one decoded point. Value is nil for NaN and infinities.
type sample struct {
	ts    model.Time
	value any
}

type series struct {
	label   string // query label, "A", "B", ...
	metric  model.Metric
	samples []sample
}

type queryOutcome struct {
	series []series
	err    error
}

// Search runs every ';'-separated query concurrently. A lone query that fails
// fails the request; in multi-query mode failures are reported in
// meta.multiQuery and the successful queries still produce rows.
func (s *PromQLStrategy) Search(ctx context.Context, req *domain.SearchRequest, _ domain.SearchOptions) (*domain.Response, error) {
	start := time.Now()

	queries := SplitQueries(req.Query.Query)
	if len(queries) == 0 {
		return nil, s.fail(domain.ErrValidation("query is empty"))
	}
	labels := make([]string, len(queries))
	for i := range queries {
		labels[i] = QueryLabel(i)
	}
	multi := len(queries) > 1

	from, to := s.timeRange(req)

	outcomes := make([]queryOutcome, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			found, err := s.runQuery(gctx, req, q, from, to)
			if err != nil && !isBackendFailure(err) {
				return err
			}
			for j := range found {
				found[j].label = labels[i]
			}
			outcomes[i] = queryOutcome{series: found, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(err)
	}

	if !multi && outcomes[0].err != nil {
		return nil, s.fail(outcomes[0].err)
	}

	var (
		all     []series
		errs    = []domain.QueryError{}
		success int
	)
	for i, o := range outcomes {
		if o.err != nil {
			errs = append(errs, domain.QueryError{Query: labels[i], Error: o.err.Error()})
			continue
		}
		success++
		all = append(all, o.series...)
	}
	if len(all) > MaxSeries {
		all = all[:MaxSeries]
	}

	df := buildSeriesFrame(req.Query.DatasetID(), all, multi)
	df.Meta = &domain.FrameMeta{InstantData: buildInstantData(all, labels, multi)}
	if multi {
		df.Meta.MultiQuery = &domain.MultiQueryMeta{
			QueryCount:   len(queries),
			SuccessCount: success,
			QueryLabels:  labels,
			Errors:       errs,
		}
		if success == 0 {
			s.logger.Error(s.name + ": all queries failed")
			s.usage.TrackError()
			return domain.NewDefaultResponse(df, elapsedMs(start)), nil
		}
	}

	took := elapsedMs(start)
	s.usage.TrackSuccess(took)
	return domain.NewDefaultResponse(df, took), nil
}

func (s *PromQLStrategy) timeRange(req *domain.SearchRequest) (time.Time, time.Time) {
	if req.TimeRange != nil && !req.TimeRange.From.IsZero() && req.TimeRange.To.After(req.TimeRange.From) {
		return req.TimeRange.From, req.TimeRange.To
	}
	to := s.now()
	return to.Add(-defaultPromQLRange), to
}

// step returns the configured step or range/250 rounded to whole seconds,
// never below one second.
func (s *PromQLStrategy) step(from, to time.Time) time.Duration {
	if s.config.PromQLDefaultStep > 0 {
		return s.config.PromQLDefaultStep
	}
	step := to.Sub(from) / stepDivisor
	step = step.Round(time.Second)
	if step < time.Second {
		step = time.Second
	}
	return step
}

// promQLConnection is the direct-query connection name of the dataset.
func promQLConnection(q domain.Query) string {
	if title := q.DataSourceTitle(); title != "" {
		return title
	}
	return q.DatasetID()
}

// requestParams builds the direct-query call for one query of the request.
func (s *PromQLStrategy) requestParams(req *domain.SearchRequest) transport.Params {
	from, to := s.timeRange(req)
	step := s.step(from, to)
	return transport.Params{
		PathParams: map[string]string{"dataSource": promQLConnection(req.Query)},
		Body: map[string]any{
			"query":    req.Query.Query,
			"language": domain.LanguagePromQL.Lang(),
			"options": map[string]string{
				"queryType": "range",
				"start":     strconv.FormatInt(from.Unix(), 10),
				"end":       strconv.FormatInt(to.Unix(), 10),
				"step":      strconv.FormatInt(int64(step/time.Second), 10),
			},
		},
	}
}

func (s *PromQLStrategy) runQuery(ctx context.Context, req *domain.SearchRequest, query string, from, to time.Time) ([]series, error) {
	call := cloneRequest(req)
	call.Query = domain.Query{Query: query, Language: domain.LanguagePromQL, Dataset: req.Query.Dataset}
	call.TimeRange = &domain.TimeRange{From: from, To: to}

	resp, err := s.client.DescribeQuery(ctx, call)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, throwFacetError(resp)
	}

	var decoded promQLResponse
	if err := json.Unmarshal(resp.Data, &decoded); err != nil {
		return nil, malformedResult(fmt.Errorf("decode promql response: %w", err))
	}
	set, ok := decoded.Results[promQLConnection(req.Query)]
	if !ok && len(decoded.Results) == 1 {
		for _, only := range decoded.Results {
			set = only
		}
	}
	found, err := decodeSeries(set)
	if err != nil {
		return nil, malformedResult(err)
	}
	return found, nil
}

// malformedResult reports a backend payload that could not be decoded as a
// failure of that query alone.
func malformedResult(err error) error {
	return &domain.BackendError{Message: err.Error(), Payload: err}
}

func isBackendFailure(err error) bool {
	var backendErr *domain.BackendError
	return errors.As(err, &backendErr)
}

func decodeSeries(set promQLResultSet) ([]series, error) {
	out := make([]series, 0, len(set.Result))
	for _, r := range set.Result {
		pairs := r.Values
		if len(pairs) == 0 && len(r.Value) > 0 {
			pairs = [][]json.RawMessage{r.Value}
		}
		ss := series{metric: r.Metric, samples: make([]sample, 0, len(pairs))}
		for _, pair := range pairs {
			sm, err := decodeSample(pair)
			if err != nil {
				return nil, err
			}
			ss.samples = append(ss.samples, sm)
		}
		out = append(out, ss)
	}
	return out, nil
}

// decodeSample reads a [timestamp, value] pair. Timestamps are unix seconds;
// values may be numbers or numeric strings.
func decodeSample(pair []json.RawMessage) (sample, error) {
	if len(pair) != 2 {
		return sample{}, fmt.Errorf("malformed sample: expected [timestamp, value], got %d elements", len(pair))
	}
	secs, err := parseFlexibleFloat(pair[0])
	if err != nil {
		return sample{}, fmt.Errorf("malformed sample timestamp: %w", err)
	}
	v, err := parseFlexibleFloat(pair[1])
	if err != nil {
		return sample{}, fmt.Errorf("malformed sample value: %w", err)
	}
	sm := sample{ts: model.TimeFromUnixNano(int64(math.Round(secs * 1e3)) * int64(time.Millisecond))}
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		sm.value = v
	}
	return sm, nil
}

func parseFlexibleFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(s, 64)
}

func seriesName(ss series, multi bool) string {
	name := ss.metric.String()
	if multi {
		return ss.label + ": " + name
	}
	return name
}

// buildSeriesFrame lays out one row per sample, series by series.
func buildSeriesFrame(name string, all []series, multi bool) *domain.DataFrame {
	schema := []domain.SchemaField{
		{Name: colTime, Type: "time"},
		{Name: colSeries, Type: "string"},
		{Name: colValue, Type: "number"},
	}
	var rows [][]any
	for _, ss := range all {
		label := seriesName(ss, multi)
		for _, sm := range ss.samples {
			rows = append(rows, []any{int64(sm.ts), label, sm.value})
		}
	}
	return domain.NewDataFrame(name, schema, rows)
}

// buildInstantData keeps, for every series, its sample at the latest
// timestamp seen across all series. Series with identical labels (ignoring
// the metric name) share one row; in multi-query mode each query fills its
// own "Value #<label>" column.
func buildInstantData(all []series, labels []string, multi bool) *domain.InstantData {
	var latest model.Time
	found := false
	for _, ss := range all {
		for _, sm := range ss.samples {
			if !found || sm.ts.After(latest) {
				latest, found = sm.ts, true
			}
		}
	}

	keySet := map[string]struct{}{}
	for _, ss := range all {
		for k := range ss.metric {
			if k != model.MetricNameLabel {
				keySet[string(k)] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	valueCols := []string{colValue}
	if multi {
		valueCols = make([]string, len(labels))
		for i, l := range labels {
			valueCols[i] = colValue + " #" + l
		}
	}

	schema := []domain.SchemaField{{Name: colTime, Type: "time"}, {Name: colMetric, Type: "string"}}
	for _, k := range keys {
		schema = append(schema, domain.SchemaField{Name: k, Type: "string"})
	}
	for _, c := range valueCols {
		schema = append(schema, domain.SchemaField{Name: c, Type: "number"})
	}

	rows := []map[string]any{}
	if !found {
		return &domain.InstantData{Schema: schema, Rows: rows}
	}

	index := map[model.Fingerprint]int{}
	for _, ss := range all {
		sm, ok := sampleAt(ss, latest)
		if !ok {
			continue
		}
		valueCol := colValue
		if multi {
			valueCol = colValue + " #" + ss.label
		}

		fp := labelsWithoutName(ss.metric).Fingerprint()
		if i, ok := index[fp]; ok && multi {
			rows[i][valueCol] = sm.value
			continue
		}

		row := map[string]any{
			colTime:   int64(latest),
			colMetric: ss.metric.String(),
		}
		for _, k := range keys {
			row[k] = string(ss.metric[model.LabelName(k)])
		}
		row[valueCol] = sm.value
		index[fp] = len(rows)
		rows = append(rows, row)
	}
	return &domain.InstantData{Schema: schema, Rows: rows}
}

func sampleAt(ss series, ts model.Time) (sample, bool) {
	for i := len(ss.samples) - 1; i >= 0; i-- {
		if ss.samples[i].ts.Equal(ts) {
			return ss.samples[i], true
		}
	}
	return sample{}, false
}

func labelsWithoutName(m model.Metric) model.LabelSet {
	ls := make(model.LabelSet, len(m))
	for k, v := range m {
		if k != model.MetricNameLabel {
			ls[k] = v
		}
	}
	return ls
}
