package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"chatdesk/internal/database"
	"chatdesk/internal/models"
	"chatdesk/internal/supabase"
)

// settingsRollbackOnFailure: agent-state syncs are fire-and-forget; a
// failed remote write never reverts the local settings.
const settingsRollbackOnFailure = false

const agentTable = "agent"

type agentRow struct {
	ID           json.Number `json:"id"`
	Mode         string      `json:"mode"`
	Active       *bool       `json:"active"`
	SentNewUser  *bool       `json:"sent_new_user"`
	DelayMinutes *int        `json:"bot_response_delay_minutes"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SettingsStore owns the settings singleton: local sqlite persistence plus
// a mirror of the agent state in one remote row.
type SettingsStore struct {
	state *State
	sb    *supabase.Client
	db    *database.DB // nil disables local persistence
}

func NewSettingsStore(state *State, sb *supabase.Client, db *database.DB) *SettingsStore {
	return &SettingsStore{state: state, sb: sb, db: db}
}

// LoadAgentState applies the most recent remote agent row to the local
// settings. Missing credentials or an empty table are a no-op.
func (s *SettingsStore) LoadAgentState(ctx context.Context) error {
	var rows []agentRow
	err := s.sb.Get(ctx, agentTable+"?select=*&order=id.desc&limit=1",
		&supabase.RequestOptions{Range: "0-0", Prefer: "count=exact"}, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[settings] remote store not configured, skipping agent state load")
		return nil
	}
	if err != nil {
		log.Printf("[settings] failed to load agent state: %v", err)
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	row := rows[0]
	s.state.mu.Lock()
	s.state.settings.AgentMode = row.Mode == models.RoleAgent
	if row.Active != nil {
		s.state.settings.AgentActive = *row.Active
	}
	if row.SentNewUser != nil {
		s.state.settings.SentNewUser = *row.SentNewUser
	}
	if row.DelayMinutes != nil {
		s.state.settings.BotResponseDelayMinutes = *row.DelayMinutes
	}
	s.state.settings.UpdatedAt = time.Now()
	s.state.mu.Unlock()
	log.Printf("[settings] loaded agent state: mode=%s active=%v", row.Mode, row.Active)

	s.persistLocal()
	return nil
}

// ToggleAgentMode flips agent/manager authorship and mirrors the new mode
// remotely.
func (s *SettingsStore) ToggleAgentMode(ctx context.Context) models.Settings {
	s.state.mu.Lock()
	s.state.settings.AgentMode = !s.state.settings.AgentMode
	s.state.settings.UpdatedAt = time.Now()
	snapshot := s.state.settings
	s.state.mu.Unlock()

	s.persistLocal()
	s.syncAgentFields(ctx, map[string]interface{}{
		"mode":       snapshot.Mode(),
		"active":     true,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return snapshot
}

// ToggleAgentActive flips the agent's active flag and mirrors it remotely.
func (s *SettingsStore) ToggleAgentActive(ctx context.Context) models.Settings {
	s.state.mu.Lock()
	s.state.settings.AgentActive = !s.state.settings.AgentActive
	s.state.settings.UpdatedAt = time.Now()
	snapshot := s.state.settings
	s.state.mu.Unlock()

	s.persistLocal()
	s.syncAgentFields(ctx, map[string]interface{}{"active": snapshot.AgentActive})
	return snapshot
}

// ToggleSentNewUser flips the notify-new-user flag and mirrors it remotely.
func (s *SettingsStore) ToggleSentNewUser(ctx context.Context) models.Settings {
	s.state.mu.Lock()
	s.state.settings.SentNewUser = !s.state.settings.SentNewUser
	s.state.settings.UpdatedAt = time.Now()
	snapshot := s.state.settings
	s.state.mu.Unlock()

	s.persistLocal()
	s.syncAgentFields(ctx, map[string]interface{}{"sent_new_user": snapshot.SentNewUser})
	return snapshot
}

// SetBotResponseDelay updates the delay and mirrors it remotely.
func (s *SettingsStore) SetBotResponseDelay(ctx context.Context, minutes int) models.Settings {
	s.state.mu.Lock()
	s.state.settings.BotResponseDelayMinutes = minutes
	s.state.settings.UpdatedAt = time.Now()
	snapshot := s.state.settings
	s.state.mu.Unlock()

	s.persistLocal()
	s.syncAgentFields(ctx, map[string]interface{}{"bot_response_delay_minutes": minutes})
	return snapshot
}

// SettingsUpdate is a partial local-only settings change.
type SettingsUpdate struct {
	SupabaseURL             *string
	SupabaseAnonKey         *string
	BotResponseDelayMinutes *int
}

// Update applies a partial change and persists it locally without touching
// the remote agent row.
func (s *SettingsStore) Update(update SettingsUpdate) models.Settings {
	s.state.mu.Lock()
	if update.SupabaseURL != nil {
		s.state.settings.SupabaseURL = *update.SupabaseURL
	}
	if update.SupabaseAnonKey != nil {
		s.state.settings.SupabaseAnonKey = *update.SupabaseAnonKey
	}
	if update.BotResponseDelayMinutes != nil {
		s.state.settings.BotResponseDelayMinutes = *update.BotResponseDelayMinutes
	}
	s.state.settings.UpdatedAt = time.Now()
	snapshot := s.state.settings
	s.state.mu.Unlock()

	s.persistLocal()
	return snapshot
}

// syncAgentFields mirrors changed fields into the single-row remote agent
// table: the latest row (by descending id) is patched when present,
// otherwise a new row with the full current snapshot is inserted. The
// read-then-write is not transactional; a single admin writer is assumed.
func (s *SettingsStore) syncAgentFields(ctx context.Context, changed map[string]interface{}) {
	var rows []agentRow
	err := s.sb.Get(ctx, agentTable+"?select=*&order=id.desc&limit=1", nil, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[settings] remote store not configured, skipping agent sync")
		return
	}
	if err != nil {
		log.Printf("[settings] failed to read agent row: %v", err)
		return
	}

	if len(rows) > 0 {
		endpoint := fmt.Sprintf("%s?id=eq.%s", agentTable, rows[0].ID.String())
		if err := s.sb.Patch(ctx, endpoint, changed, nil); err != nil {
			log.Printf("[settings] failed to patch agent row: %v", err)
		}
		return
	}

	snapshot := s.state.Settings()
	payload := map[string]interface{}{
		"mode":                       snapshot.Mode(),
		"active":                     snapshot.AgentActive,
		"sent_new_user":              snapshot.SentNewUser,
		"bot_response_delay_minutes": snapshot.BotResponseDelayMinutes,
	}
	for k, v := range changed {
		payload[k] = v
	}
	delete(payload, "created_at")
	if err := s.sb.Post(ctx, agentTable, payload, nil, nil); err != nil {
		log.Printf("[settings] failed to insert agent row: %v", err)
	}
}

func (s *SettingsStore) persistLocal() {
	if s.db == nil {
		return
	}
	snapshot := s.state.Settings()
	if err := s.db.SaveSettings(&snapshot); err != nil {
		log.Printf("[settings] failed to persist settings locally: %v", err)
	}
}
