package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatdesk/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetSettingsBeforeFirstSave(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetSettings()
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSaveAndGetSettings(t *testing.T) {
	db := newTestDB(t)

	saved := &models.Settings{
		AgentMode:               true,
		AgentActive:             false,
		SentNewUser:             true,
		BotResponseDelayMinutes: 12,
		SupabaseURL:             "https://proj.supabase.co",
		SupabaseAnonKey:         "anon-key",
	}
	require.NoError(t, db.SaveSettings(saved))

	got, err := db.GetSettings()
	require.NoError(t, err)
	assert.True(t, got.AgentMode)
	assert.False(t, got.AgentActive)
	assert.True(t, got.SentNewUser)
	assert.Equal(t, 12, got.BotResponseDelayMinutes)
	assert.Equal(t, "https://proj.supabase.co", got.SupabaseURL)
	assert.Equal(t, "anon-key", got.SupabaseAnonKey)
}

func TestSaveSettingsOverwritesSingleRow(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveSettings(&models.Settings{AgentMode: true, BotResponseDelayMinutes: 1}))
	require.NoError(t, db.SaveSettings(&models.Settings{AgentMode: false, BotResponseDelayMinutes: 2}))

	got, err := db.GetSettings()
	require.NoError(t, err)
	assert.False(t, got.AgentMode)
	assert.Equal(t, 2, got.BotResponseDelayMinutes)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Equal(t, 1, count)
}
