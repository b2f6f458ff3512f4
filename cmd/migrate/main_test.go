package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Print(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-type", "mysql", "-action", "print"}, &out))
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS api_keys")
	assert.Contains(t, out.String(), "ENGINE=InnoDB")
}

func TestRun_SQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "keyguard.db")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-type", "sqlite", "-dsn", dsn}, &out))
	assert.Contains(t, out.String(), "迁移成功完成")

	// 重复执行是幂等的
	out.Reset()
	require.NoError(t, run([]string{"-type", "sqlite", "-dsn", dsn}, &out))

	db, err := sqlx.Connect("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM api_keys`))
	assert.Zero(t, count)
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("KEYGUARD_DATABASE_DSN", "")
	var out bytes.Buffer

	assert.Error(t, run([]string{"-type", "oracle", "-dsn", "x"}, &out))
	assert.ErrorContains(t, run([]string{"-type", "sqlite"}, &out), "-dsn")
	assert.ErrorContains(t, run([]string{"-type", "sqlite", "-dsn", "x", "-action", "down"}, &out), "down")
}
