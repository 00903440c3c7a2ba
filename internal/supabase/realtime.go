package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAlreadySubscribed is returned by Subscribe on an open channel.
var ErrAlreadySubscribed = errors.New("realtime: already subscribed")

// ChannelStatus mirrors the status callbacks of the remote channel.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusClosed       ChannelStatus = "CLOSED"
)

// ChangeEvent is one postgres_changes notification.
type ChangeEvent struct {
	Type string                 // INSERT, UPDATE or DELETE
	New  map[string]interface{} // new row, nil for DELETE
	Old  map[string]interface{} // old row, nil for INSERT
}

const heartbeatInterval = 30 * time.Second

// phoenixMessage is the framing used by the realtime websocket.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// Channel is one push subscription to table changes. Safe to Subscribe at
// most once per open; Unsubscribe is idempotent and leaves the channel
// ready for a fresh Subscribe.
type Channel struct {
	credentials func() (url, key string)
	table       string

	onEvent  func(ChangeEvent)
	onStatus func(ChannelStatus)

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	ref  int
}

func NewChannel(credentials func() (url, key string), table string, onEvent func(ChangeEvent), onStatus func(ChannelStatus)) *Channel {
	return &Channel{
		credentials: credentials,
		table:       table,
		onEvent:     onEvent,
		onStatus:    onStatus,
	}
}

// Subscribe dials the realtime endpoint and joins the table topic.
func (ch *Channel) Subscribe() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conn != nil {
		return ErrAlreadySubscribed
	}

	baseURL, key := ch.credentials()
	if baseURL == "" || key == "" {
		return ErrNotConfigured
	}

	wsURL, err := realtimeURL(baseURL, key)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	join := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": ch.table},
			},
		},
	}
	if err := ch.send(conn, ch.topic(), "phx_join", join); err != nil {
		conn.Close()
		return fmt.Errorf("realtime: join: %w", err)
	}

	ch.conn = conn
	ch.done = make(chan struct{})

	go ch.readLoop(conn, ch.done)
	go ch.heartbeatLoop(conn, ch.done)
	return nil
}

// Unsubscribe tears the channel down; safe to call when not subscribed.
func (ch *Channel) Unsubscribe() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conn == nil {
		return
	}
	close(ch.done)
	ch.conn.Close()
	ch.conn = nil
	ch.done = nil
	ch.status(StatusClosed)
}

func (ch *Channel) topic() string {
	return "realtime:public:" + ch.table
}

func (ch *Channel) send(conn *websocket.Conn, topic, event string, payload interface{}) error {
	ch.ref++
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(phoenixMessage{
		Topic:   topic,
		Event:   event,
		Payload: data,
		Ref:     fmt.Sprintf("%d", ch.ref),
	})
}

func (ch *Channel) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ch.mu.Lock()
			err := ch.send(conn, "phoenix", "heartbeat", map[string]interface{}{})
			ch.mu.Unlock()
			if err != nil {
				select {
				case <-done:
					// closed by Unsubscribe
				default:
					log.Printf("[realtime] heartbeat failed: %v", err)
					ch.status(StatusTimedOut)
				}
				return
			}
		}
	}
}

func (ch *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg phoenixMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
				// closed by Unsubscribe
			default:
				log.Printf("[realtime] read error: %v", err)
				ch.status(StatusChannelError)
			}
			return
		}
		ch.handle(msg)
	}
}

func (ch *Channel) handle(msg phoenixMessage) {
	switch msg.Event {
	case "phx_reply":
		var reply struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			log.Printf("[realtime] malformed reply payload, skipping: %v", err)
			return
		}
		if msg.Topic != ch.topic() {
			return // heartbeat ack
		}
		if reply.Status == "ok" {
			ch.status(StatusSubscribed)
		} else {
			ch.status(StatusChannelError)
		}
	case "phx_error":
		ch.status(StatusChannelError)
	case "phx_close":
		ch.status(StatusClosed)
	case "postgres_changes":
		var payload struct {
			Data struct {
				Type      string                 `json:"type"`
				Record    map[string]interface{} `json:"record"`
				OldRecord map[string]interface{} `json:"old_record"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("[realtime] malformed change payload, skipping: %v", err)
			return
		}
		if payload.Data.Type == "" {
			log.Printf("[realtime] change event without type, skipping")
			return
		}
		if ch.onEvent != nil {
			ch.onEvent(ChangeEvent{
				Type: payload.Data.Type,
				New:  payload.Data.Record,
				Old:  payload.Data.OldRecord,
			})
		}
	}
}

func (ch *Channel) status(s ChannelStatus) {
	if ch.onStatus != nil {
		ch.onStatus(s)
	}
}

func realtimeURL(baseURL, key string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("realtime: bad url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
