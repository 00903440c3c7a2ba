// Package realtime bridges the remote push-event stream into the message
// collection. It is the one secondary writer next to the reload path; both
// key on message id, so duplicate deliveries and reload races stay
// idempotent.
package realtime

import (
	"log"
	"sync"

	"chatdesk/internal/store"
	"chatdesk/internal/supabase"
)

// Adapter subscribes to insert/update/delete notifications on the message
// table and applies them through the chat store.
type Adapter struct {
	chats *store.ChatStore

	mu        sync.Mutex
	channel   *supabase.Channel
	connected bool

	newChannel func(onEvent func(supabase.ChangeEvent), onStatus func(supabase.ChannelStatus)) *supabase.Channel
}

func NewAdapter(chats *store.ChatStore, credentials func() (url, key string)) *Adapter {
	a := &Adapter{chats: chats}
	a.newChannel = func(onEvent func(supabase.ChangeEvent), onStatus func(supabase.ChannelStatus)) *supabase.Channel {
		return supabase.NewChannel(credentials, store.MessagesTable, onEvent, onStatus)
	}
	return a
}

// Subscribe establishes the push channel. Calling it while subscribed is an
// error; call Unsubscribe first.
func (a *Adapter) Subscribe() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel != nil {
		return supabase.ErrAlreadySubscribed
	}
	var ch *supabase.Channel
	ch = a.newChannel(a.handleEvent, func(status supabase.ChannelStatus) {
		a.handleStatus(ch, status)
	})
	if err := ch.Subscribe(); err != nil {
		return err
	}
	a.channel = ch
	return nil
}

// Unsubscribe tears the channel down; idempotent, and the adapter can
// subscribe again afterwards.
func (a *Adapter) Unsubscribe() {
	a.mu.Lock()
	ch := a.channel
	a.channel = nil
	a.connected = false
	a.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe()
	}
}

// Connected reports whether the push channel is currently established.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// handleStatus updates the connection flag for the channel it came from.
// A torn-down channel's read or heartbeat loop can still deliver a late
// status; those must not touch the state of a newer subscription.
func (a *Adapter) handleStatus(ch *supabase.Channel, status supabase.ChannelStatus) {
	a.mu.Lock()
	if a.channel != ch {
		a.mu.Unlock()
		return
	}
	a.connected = status == supabase.StatusSubscribed
	a.mu.Unlock()
	log.Printf("[realtime] channel status: %s", status)
}

// HandleEvent applies one change event into the message collection.
// Malformed payloads are logged and skipped, never fatal.
func (a *Adapter) HandleEvent(event supabase.ChangeEvent) {
	switch event.Type {
	case "INSERT":
		msg, err := store.DecodeMessageRecord(event.New)
		if err != nil {
			log.Printf("[realtime] skipping malformed INSERT: %v", err)
			return
		}
		a.chats.ApplyInsert(msg)
	case "UPDATE":
		msg, err := store.DecodeMessageRecord(event.New)
		if err != nil {
			log.Printf("[realtime] skipping malformed UPDATE: %v", err)
			return
		}
		a.chats.ApplyUpdate(msg)
	case "DELETE":
		id, ok := recordID(event.Old)
		if !ok {
			log.Printf("[realtime] skipping DELETE without id")
			return
		}
		a.chats.ApplyDelete(id)
	default:
		log.Printf("[realtime] ignoring event type %q", event.Type)
	}
}

func (a *Adapter) handleEvent(event supabase.ChangeEvent) {
	a.HandleEvent(event)
}

func recordID(record map[string]interface{}) (string, bool) {
	if record == nil {
		return "", false
	}
	msg, err := store.DecodeMessageRecord(record)
	if err != nil || msg.ID == "" {
		return "", false
	}
	return msg.ID, true
}
