package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"query-enhancements/internal/db/crypto"
	"query-enhancements/internal/domain"
)

var _ domain.DataSourceRepository = (*DataSourceRepo)(nil)

const dataSourceColumns = `id, title, description, endpoint, engine_type, auth_type,
	credentials_encrypted, last_status, last_error, last_checked_at, created_at, updated_at`

// DataSourceRepo stores data sources with their credentials sealed. Reads go
// to the read pool and writes to the single-connection write pool.
type DataSourceRepo struct {
	write *sql.DB
	read  *sql.DB
	enc   *crypto.Encryptor
	now   func() time.Time
}

// NewDataSourceRepo creates a DataSourceRepo.
func NewDataSourceRepo(write, read *sql.DB, enc *crypto.Encryptor) *DataSourceRepo {
	return &DataSourceRepo{write: write, read: read, enc: enc, now: time.Now}
}

// Find returns every data source ordered by title.
func (r *DataSourceRepo) Find(ctx context.Context) ([]domain.DataSource, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.DataSource{}
	for rows.Next() {
		ds, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

// Get returns a data source by id with its credentials opened.
func (r *DataSourceRepo) Get(ctx context.Context, id string) (*domain.DataSource, error) {
	return r.get(ctx, r.read, id)
}

func (r *DataSourceRepo) get(ctx context.Context, q querier, id string) (*domain.DataSource, error) {
	row := q.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = ?`, id)
	ds, err := r.scan(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("data source %q", id))
	}
	return ds, nil
}

// Create inserts ds. An empty ID is filled with a new one.
func (r *DataSourceRepo) Create(ctx context.Context, ds *domain.DataSource) (*domain.DataSource, error) {
	if ds.ID == "" {
		ds.ID = domain.NewID()
	}
	sealed, err := r.enc.SealJSON(ds.Credentials, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	now := formatTime(r.now())

	_, err = r.write.ExecContext(ctx, `INSERT INTO data_sources
		(id, title, description, endpoint, engine_type, auth_type, credentials_encrypted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Title, ds.Description, ds.Endpoint, ds.Type, string(ds.AuthType), sealed, now, now)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("data source %q", ds.Title))
	}
	return r.get(ctx, r.write, ds.ID)
}

// Update applies the non-nil fields of req.
func (r *DataSourceRepo) Update(ctx context.Context, id string, req domain.UpdateDataSourceRequest) (*domain.DataSource, error) {
	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		current.Title = *req.Title
	}
	if req.Description != nil {
		current.Description = *req.Description
	}
	if req.Endpoint != nil {
		current.Endpoint = *req.Endpoint
	}
	if req.AuthType != nil {
		current.AuthType = *req.AuthType
	}
	if req.Credentials != nil {
		current.Credentials = *req.Credentials
	}

	sealed, err := r.enc.SealJSON(current.Credentials, id)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE data_sources
		SET title = ?, description = ?, endpoint = ?, auth_type = ?, credentials_encrypted = ?, updated_at = ?
		WHERE id = ?`,
		current.Title, current.Description, current.Endpoint, string(current.AuthType), sealed, formatTime(r.now()), id)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("data source %q", current.Title))
	}

	updated, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return updated, nil
}

// Delete removes a data source.
func (r *DataSourceRepo) Delete(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `DELETE FROM data_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete data source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("data source %q not found", id)
	}
	return nil
}

// RecordHealth stores the outcome of a connectivity check.
func (r *DataSourceRepo) RecordHealth(ctx context.Context, id string, health domain.HealthStatus) error {
	checkedAt := r.now()
	if health.CheckedAt != nil {
		checkedAt = *health.CheckedAt
	}
	res, err := r.write.ExecContext(ctx, `UPDATE data_sources
		SET last_status = ?, last_error = ?, last_checked_at = ?
		WHERE id = ?`,
		health.Status, health.Error, formatTime(checkedAt), id)
	if err != nil {
		return fmt.Errorf("record health: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound("data source %q not found", id)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *DataSourceRepo) scan(s scanner) (*domain.DataSource, error) {
	var (
		ds                   domain.DataSource
		authType, sealed     string
		createdAt, updatedAt string
		checkedAt            sql.NullString
	)
	err := s.Scan(&ds.ID, &ds.Title, &ds.Description, &ds.Endpoint, &ds.Type, &authType,
		&sealed, &ds.Health.Status, &ds.Health.Error, &checkedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ds.AuthType = domain.AuthType(authType)
	ds.Health.CheckedAt = parseNullTime(checkedAt)
	ds.CreatedAt = parseTime(createdAt)
	ds.UpdatedAt = parseTime(updatedAt)

	if sealed != "" {
		if err := r.enc.OpenJSON(sealed, ds.ID, &ds.Credentials); err != nil {
			return nil, fmt.Errorf("open credentials of data source %q: %w", ds.ID, err)
		}
	}
	return &ds, nil
}
