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

// followupRollbackOnFailure: optimistic creates, updates and deletes are
// reverted when the remote write fails.
const followupRollbackOnFailure = true

const followupsTable = "followups"

type followupRow struct {
	ID              json.Number `json:"id"`
	ChatID          *string     `json:"chat_id"`
	Text            string      `json:"text"`
	IntervalMinutes int         `json:"interval_minutes"`
	IsDefault       *bool       `json:"is_default"`
	IsSent          *bool       `json:"is_sent"`
	SentAt          *time.Time  `json:"sent_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func rowToFollowup(row followupRow) models.Followup {
	f := models.Followup{
		ID:              row.ID.String(),
		Text:            row.Text,
		IntervalMinutes: row.IntervalMinutes,
		SentAt:          row.SentAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ChatID != nil {
		f.ChatID = *row.ChatID
	}
	if row.IsDefault != nil {
		f.IsDefault = *row.IsDefault
	}
	if row.IsSent != nil {
		f.IsSent = *row.IsSent
	}
	return f
}

// FollowupStore manages scheduled reminders with optimistic writes and
// rollback on remote failure.
type FollowupStore struct {
	state *State
	sb    *supabase.Client
}

func NewFollowupStore(state *State, sb *supabase.Client) *FollowupStore {
	return &FollowupStore{state: state, sb: sb}
}

// Load replaces the followup collection, ordered by creation time. Missing
// credentials or an empty result leave the collection untouched.
func (s *FollowupStore) Load(ctx context.Context) error {
	var rows []followupRow
	err := s.sb.Get(ctx, followupsTable+"?select=*&order=created_at.asc", nil, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[followups] remote store not configured, skipping load")
		return nil
	}
	if err != nil {
		log.Printf("[followups] failed to load followups: %v", err)
		return err
	}
	if len(rows) == 0 {
		// empty response is not a reset
		return nil
	}

	followups := make([]models.Followup, 0, len(rows))
	for _, row := range rows {
		followups = append(followups, rowToFollowup(row))
	}

	s.state.mu.Lock()
	s.state.followups = followups
	s.state.mu.Unlock()
	return nil
}

// Add creates a reminder optimistically under a temporary id; a confirmed
// remote insert swaps in the created row, a failed one removes the entry.
func (s *FollowupStore) Add(ctx context.Context, text string, intervalMinutes int, isDefault bool, chatID string) (string, error) {
	now := time.Now()
	tempID := strconv.FormatInt(now.UnixMilli(), 10)

	s.state.mu.Lock()
	s.state.followups = append(s.state.followups, models.Followup{
		ID:              tempID,
		ChatID:          chatID,
		Text:            text,
		IntervalMinutes: intervalMinutes,
		IsDefault:       isDefault,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	s.state.mu.Unlock()

	payload := map[string]interface{}{
		"chat_id":          nullable(chatID),
		"text":             text,
		"interval_minutes": intervalMinutes,
		"is_default":       isDefault,
		"is_sent":          false,
	}

	var created []followupRow
	err := s.sb.Post(ctx, followupsTable, payload,
		&supabase.RequestOptions{Prefer: "return=representation"}, &created)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[followups] remote store not configured, reminder stays local")
		return tempID, nil
	}
	if err != nil {
		log.Printf("[followups] failed to create reminder, rolling back: %v", err)
		s.removeLocal(tempID)
		return "", err
	}
	if len(created) == 0 {
		return tempID, nil
	}

	confirmed := rowToFollowup(created[0])
	s.state.mu.Lock()
	for i := range s.state.followups {
		if s.state.followups[i].ID == tempID {
			s.state.followups[i] = confirmed
			break
		}
	}
	s.state.mu.Unlock()
	return confirmed.ID, nil
}

// Update changes a reminder's text and interval optimistically, restoring
// the previous values when the remote patch fails.
func (s *FollowupStore) Update(ctx context.Context, id, text string, intervalMinutes int) error {
	s.state.mu.Lock()
	var prevText string
	var prevInterval int
	found := false
	for i := range s.state.followups {
		if s.state.followups[i].ID == id {
			prevText = s.state.followups[i].Text
			prevInterval = s.state.followups[i].IntervalMinutes
			s.state.followups[i].Text = text
			s.state.followups[i].IntervalMinutes = intervalMinutes
			s.state.followups[i].UpdatedAt = time.Now()
			found = true
			break
		}
	}
	s.state.mu.Unlock()
	if !found {
		return nil
	}

	endpoint := fmt.Sprintf("%s?id=eq.%s", followupsTable, url.QueryEscape(id))
	payload := map[string]interface{}{
		"text":             text,
		"interval_minutes": intervalMinutes,
		"updated_at":       time.Now().UTC().Format(time.RFC3339Nano),
	}
	err := s.sb.Patch(ctx, endpoint, payload, &supabase.RequestOptions{Prefer: "return=minimal"})
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[followups] remote store not configured, update stays local")
		return nil
	}
	if err != nil {
		log.Printf("[followups] failed to update reminder %s, rolling back: %v", id, err)
		s.state.mu.Lock()
		for i := range s.state.followups {
			if s.state.followups[i].ID == id {
				s.state.followups[i].Text = prevText
				s.state.followups[i].IntervalMinutes = prevInterval
				break
			}
		}
		s.state.mu.Unlock()
		return err
	}
	return nil
}

// Remove deletes a reminder optimistically, restoring it at its previous
// position when the remote delete fails.
func (s *FollowupStore) Remove(ctx context.Context, id string) error {
	s.state.mu.Lock()
	index := -1
	var removed models.Followup
	for i, f := range s.state.followups {
		if f.ID == id {
			index = i
			removed = f
			break
		}
	}
	if index == -1 {
		s.state.mu.Unlock()
		return nil
	}
	s.state.followups = append(s.state.followups[:index], s.state.followups[index+1:]...)
	s.state.mu.Unlock()

	endpoint := fmt.Sprintf("%s?id=eq.%s", followupsTable, url.QueryEscape(id))
	err := s.sb.Delete(ctx, endpoint, &supabase.RequestOptions{Prefer: "return=minimal"})
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[followups] remote store not configured, removal stays local")
		return nil
	}
	if err != nil {
		log.Printf("[followups] failed to remove reminder %s, rolling back: %v", id, err)
		s.state.mu.Lock()
		if index > len(s.state.followups) {
			index = len(s.state.followups)
		}
		s.state.followups = append(s.state.followups[:index],
			append([]models.Followup{removed}, s.state.followups[index:]...)...)
		s.state.mu.Unlock()
		return err
	}
	return nil
}

func (s *FollowupStore) removeLocal(id string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for i, f := range s.state.followups {
		if f.ID == id {
			s.state.followups = append(s.state.followups[:i], s.state.followups[i+1:]...)
			return
		}
	}
}
