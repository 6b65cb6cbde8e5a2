package datasource

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"query-enhancements/internal/domain"
)

// SeedFile is the YAML document read by Seed.
//
//	data_sources:
//	  - title: local
//	    endpoint: http://localhost:9200
//	    auth_type: no_auth
type SeedFile struct {
	DataSources []domain.CreateDataSourceRequest `yaml:"data_sources"`
}

// Seed creates the data sources listed in the YAML file at path when none
// exist yet. It returns how many were created.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var file SeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	existing, err := s.repo.Find(ctx)
	if err != nil {
		return 0, fmt.Errorf("list data sources: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Info("data sources already present, skipping seed", "count", len(existing))
		return 0, nil
	}

	for i, req := range file.DataSources {
		if _, err := s.CreateSingleDataSource(ctx, req); err != nil {
			return i, fmt.Errorf("seed data source %q: %w", req.Title, err)
		}
	}
	return len(file.DataSources), nil
}
