package database

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subvox/subvox/internal/config"
)

func TestBuildDSNAppliesPoolSizes(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "subvox",
		SSLMode:  "disable",
		MaxConns: 25,
		MinConns: 5,
	}

	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	require.NoError(t, err)

	assert.Equal(t, int32(25), poolCfg.MaxConns)
	assert.Equal(t, int32(5), poolCfg.MinConns)
	assert.Equal(t, "subvox", poolCfg.ConnConfig.Database)
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &PersistenceError{Err: cause}

	assert.Contains(t, err.Error(), "subtitle persistence failed")
	assert.Contains(t, err.Error(), "connection reset")
	assert.ErrorIs(t, err, cause)

	var pe *PersistenceError
	assert.ErrorAs(t, error(err), &pe)
}

func TestRepository_Lifecycle(t *testing.T) {
	t.Skip("Skipping integration test - requires database connection")

	// Integration coverage for the repository runs against a real Postgres:
	// create a video, claim attempts with StartAttempt until the job reaches
	// READY via ReplaceSubtitles, and verify StartAttempt then refuses with
	// ErrTerminal while ReplaceSubtitles on a re-run leaves exactly one set
	// of rows behind.
}
