package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatdesk/internal/models"
)

type DB struct {
	*sql.DB
}

func InitDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	dbWrapper := &DB{db}
	if err := dbWrapper.createTables(); err != nil {
		return nil, err
	}

	return dbWrapper, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			agent_mode BOOLEAN DEFAULT TRUE,
			agent_active BOOLEAN DEFAULT TRUE,
			sent_new_user BOOLEAN DEFAULT FALSE,
			bot_response_delay_minutes INTEGER DEFAULT 5,
			supabase_url TEXT,
			supabase_anon_key TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %v", err)
		}
	}

	return nil
}

// SaveSettings persists the restart-surviving subset of the settings
// singleton: mode flags, delay and remote credentials.
func (db *DB) SaveSettings(s *models.Settings) error {
	query := `INSERT OR REPLACE INTO settings
		(id, agent_mode, agent_active, sent_new_user, bot_response_delay_minutes, supabase_url, supabase_anon_key, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(query, s.AgentMode, s.AgentActive, s.SentNewUser,
		s.BotResponseDelayMinutes, s.SupabaseURL, s.SupabaseAnonKey, time.Now())
	return err
}

// GetSettings loads the persisted settings row; sql.ErrNoRows means no
// settings were ever saved.
func (db *DB) GetSettings() (*models.Settings, error) {
	query := `SELECT agent_mode, agent_active, sent_new_user, bot_response_delay_minutes,
		COALESCE(supabase_url, ''), COALESCE(supabase_anon_key, ''), updated_at
		FROM settings WHERE id = 1`

	var s models.Settings
	s.ID = "1"
	err := db.QueryRow(query).Scan(&s.AgentMode, &s.AgentActive, &s.SentNewUser,
		&s.BotResponseDelayMinutes, &s.SupabaseURL, &s.SupabaseAnonKey, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &s, nil
}
