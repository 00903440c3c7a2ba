package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"chatdesk/internal/models"
	"chatdesk/internal/supabase"
)

// ignoreRollbackOnFailure: optimistic adds and removes are reverted when
// the remote write fails.
const ignoreRollbackOnFailure = true

const ignoreTable = "ignore_list"

type ignoreRow struct {
	ID        json.Number `json:"id"`
	UserID    string      `json:"user_id"`
	CreatedAt time.Time   `json:"created_at"`
}

func rowToIgnoreEntry(row ignoreRow) models.IgnoreListEntry {
	return models.IgnoreListEntry{
		ID:        row.ID.String(),
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt,
	}
}

// IgnoreStore is a small set-membership store for muted users, keyed by
// user id.
type IgnoreStore struct {
	state *State
	sb    *supabase.Client
}

func NewIgnoreStore(state *State, sb *supabase.Client) *IgnoreStore {
	return &IgnoreStore{state: state, sb: sb}
}

// Load replaces the ignore list with the remote table. Missing credentials
// or an empty result leave the list untouched.
func (s *IgnoreStore) Load(ctx context.Context) error {
	var rows []ignoreRow
	err := s.sb.Get(ctx, ignoreTable+"?select=id,user_id,created_at", nil, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[ignore] remote store not configured, skipping load")
		return nil
	}
	if err != nil {
		log.Printf("[ignore] failed to load ignore list: %v", err)
		return err
	}
	if len(rows) == 0 {
		// empty response is not a reset
		return nil
	}

	entries := make([]models.IgnoreListEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, rowToIgnoreEntry(row))
	}

	s.state.mu.Lock()
	s.state.ignoreList = entries
	s.state.mu.Unlock()
	return nil
}

// Add mutes a user. Adding an already-muted user is a no-op; a failed
// remote insert rolls the optimistic entry back.
func (s *IgnoreStore) Add(ctx context.Context, userID string) error {
	s.state.mu.Lock()
	for _, e := range s.state.ignoreList {
		if e.UserID == userID {
			s.state.mu.Unlock()
			return nil
		}
	}
	tempID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	s.state.ignoreList = append(s.state.ignoreList, models.IgnoreListEntry{
		ID:        tempID,
		UserID:    userID,
		CreatedAt: time.Now(),
	})
	s.state.mu.Unlock()

	err := s.sb.Post(ctx, ignoreTable, map[string]interface{}{"user_id": userID}, nil, nil)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[ignore] remote store not configured, entry for %s stays local", userID)
		return nil
	}
	if err != nil {
		log.Printf("[ignore] failed to add %s, rolling back: %v", userID, err)
		s.removeLocal(tempID)
		return err
	}
	return nil
}

// Remove unmutes the user behind an entry id; a failed remote delete
// restores the entry.
func (s *IgnoreStore) Remove(ctx context.Context, entryID string) error {
	s.state.mu.Lock()
	var removed *models.IgnoreListEntry
	index := -1
	for i, e := range s.state.ignoreList {
		if e.ID == entryID {
			entry := e
			removed = &entry
			index = i
			break
		}
	}
	if removed == nil {
		s.state.mu.Unlock()
		return nil
	}
	s.state.ignoreList = append(s.state.ignoreList[:index], s.state.ignoreList[index+1:]...)
	s.state.mu.Unlock()

	endpoint := fmt.Sprintf("%s?user_id=eq.%s", ignoreTable, url.QueryEscape(removed.UserID))
	err := s.sb.Delete(ctx, endpoint, nil)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[ignore] remote store not configured, removal of %s stays local", removed.UserID)
		return nil
	}
	if err != nil {
		log.Printf("[ignore] failed to remove %s, rolling back: %v", removed.UserID, err)
		s.state.mu.Lock()
		s.state.ignoreList = append(s.state.ignoreList, *removed)
		s.state.mu.Unlock()
		return err
	}
	return nil
}

func (s *IgnoreStore) removeLocal(entryID string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for i, e := range s.state.ignoreList {
		if e.ID == entryID {
			s.state.ignoreList = append(s.state.ignoreList[:i], s.state.ignoreList[i+1:]...)
			return
		}
	}
}

// IgnoredUser is an ignore-list entry joined with its user for display.
type IgnoredUser struct {
	models.IgnoreListEntry
	User *models.User `json:"user,omitempty"`
}

// IgnoredUsers returns the ignore list joined with the user directory.
func (s *IgnoreStore) IgnoredUsers() []IgnoredUser {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	out := make([]IgnoredUser, 0, len(s.state.ignoreList))
	for _, entry := range s.state.ignoreList {
		iu := IgnoredUser{IgnoreListEntry: entry}
		for i := range s.state.users {
			if s.state.users[i].ID == entry.UserID {
				u := s.state.users[i]
				iu.User = &u
				break
			}
		}
		out = append(out, iu)
	}
	return out
}
