package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"time"

	"chatdesk/internal/models"
	"chatdesk/internal/supabase"
)

const (
	// MessagesTable is the remote message log; MessagesTestTable is the
	// alternate table carrying the same schema for the test bot.
	MessagesTable     = "save_messages"
	MessagesTestTable = "save_messages_test"
)

// messageRollbackOnFailure: a failed persist leaves the optimistic message
// in place with its temporary id; the periodic full reload drops
// never-persisted messages.
const messageRollbackOnFailure = false

// messageRow is the remote shape of one save_messages row. Raw remote JSON
// never travels past this boundary.
type messageRow struct {
	ID          json.Number `json:"id,omitempty"`
	ChatID      string      `json:"chat_id"`
	MessageText string      `json:"message_text"`
	CreatedAt   time.Time   `json:"created_at"`
	Processed   bool        `json:"processed"`
	ChannelID   *string     `json:"channelid"`
	RoleUser    string      `json:"role_user"`
	MessageID   *string     `json:"message_id"`
	File        *string     `json:"file"`
	IsEcho      bool        `json:"isecho"`
	Status      *string     `json:"status"`
	Answer      bool        `json:"answer"`
}

func rowToMessage(row messageRow) models.Message {
	msg := models.Message{
		ID:            row.ID.String(),
		ChatID:        row.ChatID,
		Text:          row.MessageText,
		IsAgent:       row.RoleUser == models.RoleAgent,
		IsUserMessage: row.RoleUser == models.RoleUser,
		CreatedAt:     row.CreatedAt,
		Processed:     row.Processed,
		IsEcho:        row.IsEcho,
		Answer:        row.Answer,
	}
	if row.ChannelID != nil {
		msg.ChannelID = *row.ChannelID
	}
	if row.MessageID != nil {
		msg.MessageID = *row.MessageID
	}
	if row.File != nil {
		msg.File = *row.File
	}
	if row.Status != nil {
		msg.Status = *row.Status
	}
	return msg
}

// DecodeMessageRecord converts a realtime record payload into a Message
// using the same field mapping as the reload path, so both writers agree
// on message identity.
func DecodeMessageRecord(record map[string]interface{}) (models.Message, error) {
	if record == nil {
		return models.Message{}, errors.New("empty record")
	}
	if _, ok := record["id"]; !ok {
		return models.Message{}, errors.New("record without id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return models.Message{}, err
	}
	var row messageRow
	if err := json.Unmarshal(data, &row); err != nil {
		return models.Message{}, err
	}
	return rowToMessage(row), nil
}

func messageToPayload(msg models.Message) map[string]interface{} {
	payload := map[string]interface{}{
		"chat_id":      msg.ChatID,
		"message_text": msg.Text,
		"created_at":   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		"processed":    msg.Processed,
		"channelid":    nullable(msg.ChannelID),
		"role_user":    msg.Role(),
		"message_id":   nullable(msg.MessageID),
		"file":         nullable(msg.File),
		"isecho":       msg.IsEcho,
		"status":       msg.Status,
		"answer":       msg.Answer,
	}
	return payload
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ChatStore is the message/chat reconciliation engine: it keeps the local
// message collection consistent with the remote log across full reloads,
// per-chat reloads and optimistic sends, and derives the chat collection
// from it.
type ChatStore struct {
	state *State
	sb    *supabase.Client
}

func NewChatStore(state *State, sb *supabase.Client) *ChatStore {
	return &ChatStore{state: state, sb: sb}
}

func messagesTable(alternate bool) string {
	if alternate {
		return MessagesTestTable
	}
	return MessagesTable
}

// LoadMessages fetches the remote message log ordered by creation time.
// With a chatID only that chat's slice is replaced; otherwise the whole
// collection is replaced and the chat list reconstructed. Missing
// credentials or an empty result leave the state untouched.
func (s *ChatStore) LoadMessages(ctx context.Context, chatID string, alternate bool) error {
	table := messagesTable(alternate)
	endpoint := table + "?order=created_at.asc"
	if chatID != "" {
		endpoint = fmt.Sprintf("%s?chat_id=eq.%s&order=created_at.asc", table, url.QueryEscape(chatID))
	}

	var rows []messageRow
	err := s.sb.Get(ctx, endpoint, nil, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[chats] remote store not configured, skipping message load")
		return nil
	}
	if err != nil {
		log.Printf("[chats] failed to load messages: %v", err)
		return err
	}
	if len(rows) == 0 {
		// empty response is not a reset
		return nil
	}

	loaded := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		loaded = append(loaded, rowToMessage(row))
	}
	log.Printf("[chats] loaded %d messages from %s", len(loaded), table)

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if chatID != "" {
		kept := make([]models.Message, 0, len(s.state.messages))
		for _, m := range s.state.messages {
			if m.ChatID != chatID {
				kept = append(kept, m)
			}
		}
		s.state.messages = append(kept, loaded...)
	} else {
		s.state.messages = loaded
		s.state.chats = reconstructChats(loaded)
		log.Printf("[chats] reconstructed %d chats from messages", len(s.state.chats))
	}
	s.state.invalidateStats()
	return nil
}

// reconstructChats derives the chat collection from a message set: one chat
// per distinct non-empty chat id, created/lastMessage times from the first
// and last message, user id from the first message's channel id with the
// chat id as fallback. Pure function, full replacement.
func reconstructChats(messages []models.Message) []models.Chat {
	groups := make(map[string][]models.Message)
	order := make([]string, 0)
	for _, msg := range messages {
		if msg.ChatID == "" {
			continue
		}
		if _, ok := groups[msg.ChatID]; !ok {
			order = append(order, msg.ChatID)
		}
		groups[msg.ChatID] = append(groups[msg.ChatID], msg)
	}

	chats := make([]models.Chat, 0, len(groups))
	for _, chatID := range order {
		group := groups[chatID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		first := group[0]
		last := group[len(group)-1]
		userID := first.ChannelID
		if userID == "" {
			userID = chatID
		}
		chats = append(chats, models.Chat{
			ID:            chatID,
			UserID:        userID,
			LastMessageAt: last.CreatedAt,
			CreatedAt:     first.CreatedAt,
		})
	}
	return chats
}

// SendMessage appends an optimistic message with a temporary id and bumps
// the chat's last-message time, both visible before the remote write
// confirms, then persists. On success the message id is replaced in place
// with the remote-assigned one; on failure the message stays pending.
// Unknown chat ids are a silent no-op.
func (s *ChatStore) SendMessage(ctx context.Context, chatID, text string, isUserMessage bool, alternate bool) (string, error) {
	now := time.Now()

	s.state.mu.Lock()
	var chat *models.Chat
	for i := range s.state.chats {
		if s.state.chats[i].ID == chatID {
			chat = &s.state.chats[i]
			break
		}
	}
	if chat == nil {
		s.state.mu.Unlock()
		return "", nil
	}

	tempID := strconv.FormatInt(now.UnixMilli(), 10)
	msg := models.Message{
		ID:            tempID,
		ChatID:        chatID,
		Text:          text,
		IsAgent:       !isUserMessage && s.state.settings.AgentMode,
		IsUserMessage: isUserMessage,
		CreatedAt:     now,
		Status:        "sent",
	}
	s.state.messages = append(s.state.messages, msg)
	chat.LastMessageAt = now
	s.state.invalidateStats()
	s.state.mu.Unlock()

	if err := s.persistMessage(ctx, tempID, msg, alternate); err != nil {
		// intentionally no rollback, see messageRollbackOnFailure
		log.Printf("[chats] failed to persist message for chat %s: %v", chatID, err)
		return tempID, err
	}
	return tempID, nil
}

func (s *ChatStore) persistMessage(ctx context.Context, tempID string, msg models.Message, alternate bool) error {
	var created []messageRow
	err := s.sb.Post(ctx, messagesTable(alternate), messageToPayload(msg),
		&supabase.RequestOptions{Prefer: "return=representation"}, &created)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[chats] remote store not configured, message %s stays local", tempID)
		return nil
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		return nil
	}

	remoteID := created[0].ID.String()
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for i := range s.state.messages {
		if s.state.messages[i].ID == tempID {
			s.state.messages[i].ID = remoteID
			break
		}
	}
	log.Printf("[chats] message %s confirmed as %s", tempID, remoteID)
	return nil
}

// MessageStatusUpdate is a partial update of delivery metadata.
type MessageStatusUpdate struct {
	Processed *bool
	Status    *string
	Answer    *bool
}

// UpdateMessageStatus patches delivery metadata on a persisted message,
// locally and remotely.
func (s *ChatStore) UpdateMessageStatus(ctx context.Context, messageID string, update MessageStatusUpdate) error {
	payload := map[string]interface{}{}
	if update.Processed != nil {
		payload["processed"] = *update.Processed
	}
	if update.Status != nil {
		payload["status"] = *update.Status
	}
	if update.Answer != nil {
		payload["answer"] = *update.Answer
	}
	if len(payload) == 0 {
		return nil
	}

	s.state.mu.Lock()
	for i := range s.state.messages {
		if s.state.messages[i].ID == messageID {
			if update.Processed != nil {
				s.state.messages[i].Processed = *update.Processed
			}
			if update.Status != nil {
				s.state.messages[i].Status = *update.Status
			}
			if update.Answer != nil {
				s.state.messages[i].Answer = *update.Answer
			}
			break
		}
	}
	s.state.mu.Unlock()

	endpoint := fmt.Sprintf("%s?id=eq.%s", MessagesTable, url.QueryEscape(messageID))
	err := s.sb.Patch(ctx, endpoint, payload, nil)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[chats] remote store not configured, skipping status update")
		return nil
	}
	if err != nil {
		log.Printf("[chats] failed to update message %s status: %v", messageID, err)
	}
	return err
}

// DeleteChatMessages removes a chat's messages remotely and locally; the
// chat itself disappears with its last message.
func (s *ChatStore) DeleteChatMessages(ctx context.Context, chatID string) error {
	endpoint := fmt.Sprintf("%s?chat_id=eq.%s", MessagesTable, url.QueryEscape(chatID))
	err := s.sb.Delete(ctx, endpoint, nil)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[chats] remote store not configured, skipping chat purge")
		return nil
	}
	if err != nil {
		log.Printf("[chats] failed to delete messages for chat %s: %v", chatID, err)
		return err
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	kept := s.state.messages[:0]
	for _, m := range s.state.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	s.state.messages = kept
	chats := s.state.chats[:0]
	for _, c := range s.state.chats {
		if c.ID != chatID {
			chats = append(chats, c)
		}
	}
	s.state.chats = chats
	s.state.invalidateStats()
	return nil
}

// SearchMessages runs a case-insensitive text search against the remote
// log, newest first, capped at 100 rows. Results are not merged into the
// local collection.
func (s *ChatStore) SearchMessages(ctx context.Context, query string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("%s?message_text=ilike.%s&order=created_at.desc&limit=100",
		MessagesTable, url.QueryEscape("%"+query+"%"))

	var rows []messageRow
	err := s.sb.Get(ctx, endpoint, nil, &rows)
	if errors.Is(err, supabase.ErrNotConfigured) {
		log.Printf("[chats] remote store not configured, skipping search")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToMessage(row))
	}
	return out, nil
}

// MessageStats returns per-UTC-day agent/manager counts over all non-user
// messages, ascending by date. The aggregate is memoized until the message
// collection changes.
func (s *ChatStore) MessageStats() []models.MessageStats {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.statsValid {
		out := make([]models.MessageStats, len(s.state.statsCache))
		copy(out, s.state.statsCache)
		return out
	}

	byDay := make(map[string]*models.MessageStats)
	for _, msg := range s.state.messages {
		if msg.IsUserMessage {
			continue
		}
		day := msg.CreatedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &models.MessageStats{Date: day}
			byDay[day] = entry
		}
		if msg.IsAgent {
			entry.AgentCount++
		} else {
			entry.ManagerCount++
		}
	}

	stats := make([]models.MessageStats, 0, len(byDay))
	for _, entry := range byDay {
		stats = append(stats, *entry)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date < stats[j].Date })

	s.state.statsCache = stats
	s.state.statsValid = true
	out := make([]models.MessageStats, len(stats))
	copy(out, stats)
	return out
}

// ChatView is a chat joined with its user and last message for display.
type ChatView struct {
	models.Chat
	User        *models.User    `json:"user,omitempty"`
	LastMessage *models.Message `json:"last_message,omitempty"`
}

// ActiveChats returns all chats joined with user and last message,
// descending by last-message time.
func (s *ChatStore) ActiveChats() []ChatView {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	views := make([]ChatView, 0, len(s.state.chats))
	for _, chat := range s.state.chats {
		view := ChatView{Chat: chat}
		for i := range s.state.users {
			if s.state.users[i].ID == chat.UserID {
				u := s.state.users[i]
				view.User = &u
				break
			}
		}
		var last *models.Message
		for i := range s.state.messages {
			if s.state.messages[i].ChatID != chat.ID {
				continue
			}
			if last == nil || !s.state.messages[i].CreatedAt.Before(last.CreatedAt) {
				m := s.state.messages[i]
				last = &m
			}
		}
		view.LastMessage = last
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].LastMessageAt.After(views[j].LastMessageAt)
	})
	return views
}

// GetChatMessages returns a chat's messages ascending by creation time.
func (s *ChatStore) GetChatMessages(chatID string) []models.Message {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	out := make([]models.Message, 0)
	for _, m := range s.state.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetChatByID returns the chat joined with its user, and whether it exists.
func (s *ChatStore) GetChatByID(chatID string) (ChatView, bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for _, chat := range s.state.chats {
		if chat.ID != chatID {
			continue
		}
		view := ChatView{Chat: chat}
		for i := range s.state.users {
			if s.state.users[i].ID == chat.UserID {
				u := s.state.users[i]
				view.User = &u
				break
			}
		}
		return view, true
	}
	return ChatView{}, false
}

// ApplyInsert adds a realtime-delivered message if its id is not already
// present, bumping or synthesizing the owning chat. Duplicate deliveries
// are a no-op.
func (s *ChatStore) ApplyInsert(msg models.Message) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for i := range s.state.messages {
		if s.state.messages[i].ID == msg.ID {
			return
		}
	}
	s.state.messages = append(s.state.messages, msg)
	s.state.invalidateStats()

	if msg.ChatID == "" {
		return
	}
	for i := range s.state.chats {
		if s.state.chats[i].ID == msg.ChatID {
			s.state.chats[i].LastMessageAt = msg.CreatedAt
			return
		}
	}
	// first sight of this chat; reconstruction on the next full reload
	// converges to the same result
	userID := msg.ChannelID
	if userID == "" {
		userID = msg.ChatID
	}
	s.state.chats = append(s.state.chats, models.Chat{
		ID:            msg.ChatID,
		UserID:        userID,
		LastMessageAt: msg.CreatedAt,
		CreatedAt:     msg.CreatedAt,
	})
	log.Printf("[chats] synthesized chat %s from realtime insert", msg.ChatID)
}

// ApplyUpdate replaces the message with a matching id; unknown ids are
// ignored.
func (s *ChatStore) ApplyUpdate(msg models.Message) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for i := range s.state.messages {
		if s.state.messages[i].ID == msg.ID {
			s.state.messages[i] = msg
			s.state.invalidateStats()
			return
		}
	}
}

// ApplyDelete removes the message with the given id; unknown ids are
// ignored.
func (s *ChatStore) ApplyDelete(messageID string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for i := range s.state.messages {
		if s.state.messages[i].ID == messageID {
			s.state.messages = append(s.state.messages[:i], s.state.messages[i+1:]...)
			s.state.invalidateStats()
			return
		}
	}
}
