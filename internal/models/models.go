package models

import (
	"time"
)

// Sender roles stored in the remote role_user column.
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleUser    = "user"
)

type User struct {
	ID            string    `json:"id"` // remote chat identifier
	ChatID        string    `json:"chat_id"`
	Phone         string    `json:"phone"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	AvatarURI     string    `json:"avatar_uri"`
	ChatType      string    `json:"chat_type"`
	MessagesCount int       `json:"messages_count"`
	Notes         string    `json:"notes"`
	Tags          []string  `json:"tags"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Chat is derived from the message log; it has no remote table of its own.
type Chat struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

type Message struct {
	ID            string    `json:"id"` // remote numeric id as string, or a temp id before confirmation
	ChatID        string    `json:"chat_id"`
	Text          string    `json:"text"`
	IsAgent       bool      `json:"is_agent"`
	IsUserMessage bool      `json:"is_user_message"`
	CreatedAt     time.Time `json:"created_at"`
	Processed     bool      `json:"processed"`
	ChannelID     string    `json:"channel_id,omitempty"`
	MessageID     string    `json:"message_id,omitempty"`
	File          string    `json:"file,omitempty"`
	IsEcho        bool      `json:"is_echo"`
	Status        string    `json:"status,omitempty"`
	Answer        bool      `json:"answer"`
}

// Role reports the sender role; agent and user are mutually exclusive,
// neither flag set means a human manager wrote it.
func (m *Message) Role() string {
	switch {
	case m.IsUserMessage:
		return RoleUser
	case m.IsAgent:
		return RoleAgent
	default:
		return RoleManager
	}
}

type IgnoreListEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Followup struct {
	ID              string     `json:"id"`
	ChatID          string     `json:"chat_id,omitempty"`
	Text            string     `json:"text"`
	IntervalMinutes int        `json:"interval_minutes"`
	IsDefault       bool       `json:"is_default"`
	IsSent          bool       `json:"is_sent"`
	SentAt          *time.Time `json:"sent_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TriggerTime is the moment the reminder becomes due.
func (f *Followup) TriggerTime() time.Time {
	return f.CreatedAt.Add(time.Duration(f.IntervalMinutes) * time.Minute)
}

// IsDue reports whether the reminder should have fired by now.
func (f *Followup) IsDue(now time.Time) bool {
	return !f.IsSent && now.After(f.TriggerTime())
}

// Settings is the process-wide singleton mirrored to one row of the remote
// agent table. Only the mode flags, delay and credentials survive a restart.
type Settings struct {
	ID                      string    `json:"id"`
	AgentMode               bool      `json:"agent_mode"` // agent vs manager authorship
	AgentActive             bool      `json:"agent_active"`
	SentNewUser             bool      `json:"sent_new_user"`
	BotResponseDelayMinutes int       `json:"bot_response_delay_minutes"`
	SupabaseURL             string    `json:"supabase_url"`
	SupabaseAnonKey         string    `json:"supabase_anon_key"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Mode returns the remote representation of the agent-mode flag.
func (s *Settings) Mode() string {
	if s.AgentMode {
		return RoleAgent
	}
	return RoleManager
}

// MessageStats aggregates non-user messages for one UTC calendar day.
type MessageStats struct {
	Date         string `json:"date"` // YYYY-MM-DD
	AgentCount   int    `json:"agent_count"`
	ManagerCount int    `json:"manager_count"`
}
