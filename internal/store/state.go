package store

import (
	"sync"

	"chatdesk/internal/models"
)

// State is the shared in-memory projection of the remote tables. Every
// store mutates it under one mutex; each mutation (including rollbacks and
// realtime event application) is a single critical section, so the
// last-write-wins semantics of the concurrent writers stay intact.
//
// Single-writer discipline per collection: each entity type is mutated only
// by its owning store, with the realtime adapter as the one secondary
// writer into the message and chat collections.
type State struct {
	mu sync.Mutex

	users      []models.User
	chats      []models.Chat
	messages   []models.Message
	ignoreList []models.IgnoreListEntry
	followups  []models.Followup
	settings   models.Settings

	statsCache []models.MessageStats
	statsValid bool
}

func NewState(settings models.Settings) *State {
	return &State{settings: settings}
}

// invalidateStats must be called with mu held after any message mutation.
func (s *State) invalidateStats() {
	s.statsValid = false
	s.statsCache = nil
}

// Users returns a copy of the user collection.
func (s *State) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out
}

// Chats returns a copy of the derived chat collection.
func (s *State) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// Messages returns a copy of the message collection.
func (s *State) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// IgnoreList returns a copy of the ignore-list collection.
func (s *State) IgnoreList() []models.IgnoreListEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.IgnoreListEntry, len(s.ignoreList))
	copy(out, s.ignoreList)
	return out
}

// Followups returns a copy of the followup collection.
func (s *State) Followups() []models.Followup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Followup, len(s.followups))
	copy(out, s.followups)
	return out
}

// Settings returns the current settings snapshot.
func (s *State) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Credentials returns the remote URL and key; shaped for supabase.NewClient.
func (s *State) Credentials() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.SupabaseURL, s.settings.SupabaseAnonKey
}
