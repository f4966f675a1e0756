package db

import (
	"path/filepath"
	"rsynco/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rsynco.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = Close(db) }()

	assert.FileExists(t, path)
	assert.True(t, db.Migrator().HasTable(&model.Job{}))
	assert.True(t, db.Migrator().HasTable(&model.History{}))

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}
