package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"chatdesk/internal/models"
	"chatdesk/internal/supabase"
)

// userRollbackOnFailure: optimistic flag changes are reverted when the
// remote write fails.
const userRollbackOnFailure = true

const usersTable = "user_clients"

type userRow struct {
	ChatID        string    `json:"chat_id"`
	Phone         *string   `json:"phone"`
	Name          *string   `json:"name"`
	Username      *string   `json:"username"`
	AvatarURI     *string   `json:"avatar_uri"`
	ChatType      *string   `json:"chat_type"`
	MessagesCount *int      `json:"messages_count"`
	Notes         *string   `json:"notes"`
	Tags          []string  `json:"tags"`
	IsActive      *bool     `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func rowToUser(row userRow) models.User {
	user := models.User{
		ID:        row.ChatID,
		ChatID:    row.ChatID,
		Tags:      row.Tags,
		IsActive:  true,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Phone != nil {
		user.Phone = *row.Phone
	}
	if row.Name != nil {
		user.Name = *row.Name
	}
	if row.Username != nil {
		user.Username = *row.Username
	}
	if row.AvatarURI != nil {
		user.AvatarURI = *row.AvatarURI
	}
	if row.ChatType != nil {
		user.ChatType = *row.ChatType
	}
	if row.MessagesCount != nil {
		user.MessagesCount = *row.MessagesCount
	}
	if row.Notes != nil {
		user.Notes = *row.Notes
	}
	if row.IsActive != nil {
		user.IsActive = *row.IsActive
	}
	if user.Tags == nil {
		user.Tags = []string{}
	}
	return user
}

// UserStore mirrors the remote user directory with optimistic toggles.
type UserStore struct {
	state *State
	sb    *supabase.Client
}

func NewUserStore(state *State, sb *supabase.Client) *UserStore {
	return &UserStore{state: state, sb: sb}
}

// Load replaces the user collection with the remote directory. Missing
// credentials or an empty result leave the collection untouched.
func (s *UserStore) Load(ctx context.Context) error {
	var rows []userRow
	err := s.sb.Get(ctx, usersTable+"?select=*",
		&supabase.RequestOptions{Range: "0-999999", Prefer: "count=exact"}, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[users] remote store not configured, skipping load")
		return nil
	}
	if err != nil {
		log.Printf("[users] failed to load users: %v", err)
		return err
	}
	if len(rows) == 0 {
		// empty response is not a reset
		return nil
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, rowToUser(row))
	}
	log.Printf("[users] loaded %d users", len(users))

	s.state.mu.Lock()
	s.state.users = users
	s.state.mu.Unlock()
	return nil
}

// ToggleUserActive flips a user's active flag optimistically and patches
// the remote row; on failure the previous value is restored.
func (s *UserStore) ToggleUserActive(ctx context.Context, userID string) error {
	s.state.mu.Lock()
	var previous, next bool
	found := false
	for i := range s.state.users {
		if s.state.users[i].ID == userID {
			previous = s.state.users[i].IsActive
			next = !previous
			s.state.users[i].IsActive = next
			found = true
			break
		}
	}
	s.state.mu.Unlock()
	if !found {
		log.Printf("[users] toggle for unknown user %s", userID)
		return nil
	}

	endpoint := fmt.Sprintf("%s?chat_id=eq.%s", usersTable, url.QueryEscape(userID))
	err := s.sb.Patch(ctx, endpoint, map[string]interface{}{"is_active": next},
		&supabase.RequestOptions{Prefer: "return=minimal"})
	if err != nil {
		log.Printf("[users] failed to toggle user %s, rolling back: %v", userID, err)
		s.setActive(userID, previous)
		if errors.Is(err, supabase.ErrNotConfigured) {
			return nil
		}
		return err
	}
	return nil
}

func (s *UserStore) setActive(userID string, active bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for i := range s.state.users {
		if s.state.users[i].ID == userID {
			s.state.users[i].IsActive = active
			return
		}
	}
}

// ActivateAll sets every user active with one bulk remote patch.
func (s *UserStore) ActivateAll(ctx context.Context) error {
	return s.setAllActive(ctx, true)
}

// DeactivateAll sets every user inactive with one bulk remote patch.
func (s *UserStore) DeactivateAll(ctx context.Context) error {
	return s.setAllActive(ctx, false)
}

func (s *UserStore) setAllActive(ctx context.Context, active bool) error {
	s.state.mu.Lock()
	previous := make(map[string]bool, len(s.state.users))
	for i := range s.state.users {
		previous[s.state.users[i].ID] = s.state.users[i].IsActive
		s.state.users[i].IsActive = active
	}
	s.state.mu.Unlock()

	err := s.sb.Patch(ctx, usersTable+"?chat_id=not.is.null",
		map[string]interface{}{"is_active": active},
		&supabase.RequestOptions{Prefer: "return=minimal"})
	if err != nil {
		log.Printf("[users] bulk toggle failed, rolling back: %v", err)
		s.state.mu.Lock()
		for i := range s.state.users {
			if prev, ok := previous[s.state.users[i].ID]; ok {
				s.state.users[i].IsActive = prev
			}
		}
		s.state.mu.Unlock()
		if errors.Is(err, supabase.ErrNotConfigured) {
			return nil
		}
		return err
	}
	return nil
}
