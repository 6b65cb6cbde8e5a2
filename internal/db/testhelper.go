package db

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestPools opens a migrated pool pair in t.TempDir() and closes it when
// the test ends.
func OpenTestPools(t *testing.T) *Pools {
	t.Helper()

	pools, err := OpenPools(filepath.Join(t.TempDir(), "test.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pools.Close() })

	if err := Migrate(context.Background(), pools.Write, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return pools
}
