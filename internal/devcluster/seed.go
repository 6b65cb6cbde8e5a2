package devcluster

import (
	"context"
	"database/sql"
	"fmt"
)

// SampleTable is the table created by SeedSampleData.
const SampleTable = "logs"

// SeedSampleData creates the sample "logs" table with rows synthetic
// entries spread over the last day.
func SeedSampleData(ctx context.Context, db *sql.DB, rows int) error {
	if rows <= 0 {
		return fmt.Errorf("sample row count must be positive, got %d", rows)
	}
	stmt := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS
SELECT
	(TIMESTAMP '2024-01-01 00:00:00' + to_seconds(i * 86400 // %d)) AS "timestamp",
	(['INFO', 'INFO', 'INFO', 'WARN', 'ERROR'])[(i %% 5) + 1] AS level,
	(['checkout', 'payments', 'search', 'auth'])[(i %% 4) + 1] AS service,
	CAST(20 + (i * 37) %% 480 AS INTEGER) AS latency_ms,
	(i %% 7 = 0) AS cached,
	'request ' || i AS message
FROM range(%d) AS t(i)`, SampleTable, rows, rows)

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create sample table: %w", err)
	}
	return nil
}
