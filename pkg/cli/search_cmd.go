package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"query-enhancements/internal/domain"
	"query-enhancements/internal/search"
)

// cancelTimeout bounds the cancel call sent after an interrupted search.
const cancelTimeout = 10 * time.Second

type searchOptions struct {
	lang            string
	async           bool
	dataset         string
	datasetType     string
	dataSource      string
	dataSourceTitle string
	format          string
	since           time.Duration
	interval        time.Duration
}

// strategyID maps the language, dataset type and async flag to a server
// strategy id. S3 datasets always run as async jobs.
func (o searchOptions) strategyID() (string, error) {
	lang := domain.Language(strings.ToUpper(o.lang))
	switch lang {
	case domain.LanguageSQL, domain.LanguagePPL, domain.LanguagePromQL:
	default:
		return "", fmt.Errorf("unsupported language %q: use sql, ppl or promql", o.lang)
	}

	id, err := search.StrategyIDFor(lang, domain.DatasetType(strings.ToUpper(o.datasetType)), o.async)
	if err != nil {
		return "", err
	}
	if o.async && id == search.StrategyPromQL {
		return "", fmt.Errorf("--async is not supported for promql")
	}
	return id, nil
}

func (o searchOptions) request(query string, now time.Time) *domain.SearchRequest {
	lang := domain.Language(strings.ToUpper(o.lang))
	req := &domain.SearchRequest{
		Query:  domain.Query{Query: query, Language: lang},
		Format: o.format,
	}
	if o.dataset != "" || o.dataSource != "" || o.datasetType != "" {
		ds := &domain.Dataset{ID: o.dataset, Type: domain.DatasetType(strings.ToUpper(o.datasetType))}
		if o.dataSource != "" || o.dataSourceTitle != "" {
			ds.DataSource = &domain.DataSourceRef{ID: o.dataSource, Title: o.dataSourceTitle}
		}
		req.Query.Dataset = ds
	}
	if lang == domain.LanguagePromQL && o.since > 0 {
		req.TimeRange = &domain.TimeRange{From: now.Add(-o.since), To: now}
	}
	return req
}

func newSearchCmd(client *Client) *cobra.Command {
	opts := searchOptions{}

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Run a SQL, PPL or PromQL query",
		Long: "Run a query through the server. Async queries are polled until they finish; " +
			"interrupting an async query cancels the backend job.",
		Example: `  qe search "SELECT level, count(*) FROM logs GROUP BY level"
  qe search --lang ppl --async "source=logs | where level = 'error' | head 5"
  qe search --lang promql --since 30m --data-source-title prom 'up'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			resp, err := runSearch(ctx, client, opts, args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			renderFrame(cmd.OutOrStdout(), resp.Frame)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "sql", "Query language: sql, ppl or promql")
	cmd.Flags().BoolVar(&opts.async, "async", false, "Submit as an async query and poll for the result")
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "Dataset id")
	cmd.Flags().StringVar(&opts.datasetType, "dataset-type", "", "Dataset type, e.g. INDEX_PATTERN, S3, PROMETHEUS")
	cmd.Flags().StringVar(&opts.dataSource, "data-source", "", "External data source id")
	cmd.Flags().StringVar(&opts.dataSourceTitle, "data-source-title", "", "External data source name")
	cmd.Flags().StringVar(&opts.format, "format", "", "Response format requested from the backend (jdbc, viz)")
	cmd.Flags().DurationVar(&opts.since, "since", time.Hour, "PromQL: query the range ending now")
	cmd.Flags().DurationVar(&opts.interval, "poll-interval", time.Second, "Async: delay between status checks")

	return cmd
}

// runSearch submits query and, for async strategies, polls until the job
// reaches a terminal state. When ctx ends while a job is running the job
// is cancelled on the server.
func runSearch(ctx context.Context, client *Client, opts searchOptions, query string, progress io.Writer) (*domain.Response, error) {
	strategy, err := opts.strategyID()
	if err != nil {
		return nil, err
	}
	if opts.interval <= 0 {
		return nil, fmt.Errorf("--poll-interval must be positive")
	}
	req := opts.request(query, time.Now())

	resp, err := client.Search(ctx, strategy, req)
	if err != nil {
		return nil, err
	}
	if resp.Type != domain.ResponseTypePolling {
		if resp.Err != nil {
			return nil, errors.New(resp.Err.Error)
		}
		if !resp.HasBody() {
			return nil, fmt.Errorf("server returned an empty %s response", resp.Type)
		}
		return resp, nil
	}
	if resp.Started == nil || resp.Started.QueryStatusConfig == nil {
		return nil, fmt.Errorf("server did not return a query id")
	}

	qsc := resp.Started.QueryStatusConfig
	_, _ = fmt.Fprintf(progress, "query %s submitted\n", qsc.QueryID)
	req.PollQueryResultsParams = &domain.PollParams{QueryID: qsc.QueryID, SessionID: qsc.SessionID}
	req.DF = &domain.DataFrame{Meta: &domain.FrameMeta{QueryConfig: qsc}}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cancelQuery(client, strategy, qsc, progress)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		resp, err = client.Search(ctx, strategy, req)
		if err != nil {
			if ctx.Err() != nil {
				cancelQuery(client, strategy, qsc, progress)
				return nil, ctx.Err()
			}
			return nil, err
		}
		switch resp.Status {
		case domain.PollingStatusSuccess:
			return resp, nil
		case domain.PollingStatusFailed:
			if resp.Err != nil {
				return nil, errors.New(resp.Err.Error)
			}
			return nil, fmt.Errorf("query %s failed", qsc.QueryID)
		default:
			_, _ = fmt.Fprintf(progress, "query %s: %s\n", qsc.QueryID, resp.Status)
		}
	}
}

func cancelQuery(client *Client, strategy string, qsc *domain.QueryStatusConfig, progress io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := client.Cancel(ctx, strategy, qsc.QueryID, qsc.DataSourceID); err != nil {
		_, _ = fmt.Fprintf(progress, "cancel query %s: %v\n", qsc.QueryID, err)
		return
	}
	_, _ = fmt.Fprintf(progress, "query %s cancelled\n", qsc.QueryID)
}
