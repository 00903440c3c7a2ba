package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("BOT_RESPONSE_DELAY_MINUTES", "")
	t.Setenv("RELOAD_INTERVAL_SECONDS", "")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "./chatdesk.db", cfg.DatabasePath)
	assert.Equal(t, 5, cfg.BotResponseDelayMinutes)
	assert.Equal(t, 60, cfg.ReloadIntervalSeconds)
	assert.NotEmpty(t, cfg.BookingAPIURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("BOT_RESPONSE_DELAY_MINUTES", "15")
	t.Setenv("RELOAD_INTERVAL_SECONDS", "0")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "https://proj.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, 15, cfg.BotResponseDelayMinutes)
	assert.Equal(t, 0, cfg.ReloadIntervalSeconds)
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("BOT_RESPONSE_DELAY_MINUTES", "not-a-number")
	cfg := Load()
	assert.Equal(t, 5, cfg.BotResponseDelayMinutes)
}
