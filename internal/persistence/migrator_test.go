package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_margin_state.up.sql"))
	assert.Equal(t, "noversion", extractVersion("noversion"))
}

func TestListMigrationFiles_SortedBySuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000001_a.up.sql", "000001_a.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	m := NewMigrator(nil, dir, zerolog.Nop())
	up, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, up)

	down, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.down.sql"}, down)
}

func TestMigrationsDirIsComplete(t *testing.T) {
	m := NewMigrator(nil, filepath.Join("..", "..", "migrations"), zerolog.Nop())
	up, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	down, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)
	assert.Len(t, down, len(up))
	assert.NotEmpty(t, up)
}
