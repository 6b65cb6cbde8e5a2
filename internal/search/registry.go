package search

import (
	"fmt"
	"sort"

	"query-enhancements/internal/domain"
)

// Registry holds the strategies served by the API.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry registers strategies by id. A later strategy with the same id
// replaces an earlier one.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.ID()] = s
	}
	return r
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, domain.ErrNotFound("search strategy %q not found", id)
	}
	return s, nil
}

// IDs lists the registered strategy ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StrategyIDFor maps a query language and dataset type to a strategy id.
// S3 datasets are only queryable through async jobs, and preferAsync picks
// the async variant for any SQL or PPL query. PromQL and Prometheus datasets
// always map to the PromQL strategy.
func StrategyIDFor(lang domain.Language, datasetType domain.DatasetType, preferAsync bool) (string, error) {
	if lang == domain.LanguagePromQL || datasetType == domain.DatasetTypePrometheus {
		return StrategyPromQL, nil
	}

	async := preferAsync || datasetType == domain.DatasetTypeS3
	switch lang {
	case domain.LanguageSQL:
		if async {
			return StrategySQLAsync, nil
		}
		return StrategySQL, nil
	case domain.LanguagePPL:
		if async {
			return StrategyPPLAsync, nil
		}
		return StrategyPPL, nil
	default:
		return "", domain.ErrValidation("unsupported query language %q", lang)
	}
}

// For picks the registered strategy for a query language and dataset type.
func (r *Registry) For(lang domain.Language, datasetType domain.DatasetType) (Strategy, error) {
	id, err := StrategyIDFor(lang, datasetType, false)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Canceler returns the strategy registered under id if it can cancel jobs.
func (r *Registry) Canceler(id string) (Canceler, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	c, ok := s.(Canceler)
	if !ok {
		return nil, domain.ErrValidation("search strategy %q does not support cancellation", id)
	}
	return c, nil
}

// String describes the registry for logs.
func (r *Registry) String() string {
	return fmt.Sprintf("search.Registry%v", r.IDs())
}
