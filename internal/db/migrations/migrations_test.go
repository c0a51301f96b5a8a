package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups[strings.TrimSuffix(n, ".up.sql")] = true
		case strings.HasSuffix(n, ".down.sql"):
			downs[strings.TrimSuffix(n, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", n)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaGuardsSchedulingInvariants(t *testing.T) {
	raw, err := fs.ReadFile(FS, "0001_init.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	assert.Contains(t, schema, "EXCLUDE USING gist")
	assert.Contains(t, schema, "WHERE (status = 'SCHEDULED')")
	assert.Contains(t, schema, "CHECK (credits >= 0)")
	assert.Contains(t, schema, "idempotency_key text UNIQUE")
	assert.Contains(t, schema, "BEFORE UPDATE OR DELETE ON credit_transactions")
}
