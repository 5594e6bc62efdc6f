package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{"sqlite relative", "sqlite://pm.db", DriverSQLite, "pm.db", false},
		{"sqlite absolute", "sqlite:///var/lib/pm/pm.db", DriverSQLite, "/var/lib/pm/pm.db", false},
		{"sqlite with options", "sqlite://pm.db?_busy_timeout=5000", DriverSQLite, "pm.db?_busy_timeout=5000", false},
		{"sqlite without path", "sqlite://", "", "", true},
		{"postgres", "postgres://u:p@db:5432/pm?sslmode=disable", DriverPostgres, "postgres://u:p@db:5432/pm?sslmode=disable", false},
		{"postgresql alias", "postgresql://db/pm", DriverPostgres, "postgresql://db/pm", false},
		{"unsupported scheme", "mysql://db/pm", "", "", true},
		{"garbage", "://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, source, err := parseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements(`
-- leading comment
CREATE TABLE a (id INTEGER);

-- only a comment
;
CREATE INDEX idx_a ON a (id)
`)
	assert.Equal(t, []string{"CREATE TABLE a (id INTEGER)", "CREATE INDEX idx_a ON a (id)"}, got)
}

func TestValidateChecksums(t *testing.T) {
	embedded := []migration{{ID: "001_initial_schema.sql", Checksum: "abc"}}

	assert.NoError(t, validateChecksums(map[string]string{"001_initial_schema.sql": "abc"}, embedded))
	assert.ErrorContains(t, validateChecksums(map[string]string{"001_initial_schema.sql": "xyz"}, embedded), "checksum mismatch")
	assert.ErrorContains(t, validateChecksums(map[string]string{"000_gone.sql": "abc"}, embedded), "not in embedded files")
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "pm.db"))
	require.NoError(t, err)
	defer conn.Close()

	pending, err := Pending(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema.sql"}, pending)

	applied, err := MigrateUp(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial_schema.sql"}, applied)

	applied, err = MigrateUp(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, applied)

	statuses, err := MigrateStatus(ctx, conn)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)
	assert.NotNil(t, statuses[0].AppliedAt)

	q, err := LoadQueries(conn)
	require.NoError(t, err)
	_, err = q.Exec(ctx, "insert-policy-type", "FIREWALL", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	_, err = q.Exec(ctx, "insert-policy-type", "FIREWALL", "2026-01-02T00:00:00Z")
	require.NoError(t, err, "re-inserting a type is a no-op")

	var names []string
	require.NoError(t, q.Select(ctx, "list-policy-types", &names))
	assert.Equal(t, []string{"FIREWALL"}, names)

	var n int
	require.NoError(t, q.Get(ctx, "count-rule-events", &n))
	assert.Zero(t, n)

	_, err = q.Exec(ctx, "no-such-query")
	assert.ErrorContains(t, err, "query not found")
}

func TestLoadQueries_NilDB(t *testing.T) {
	_, err := LoadQueries(nil)
	assert.Error(t, err)
}
