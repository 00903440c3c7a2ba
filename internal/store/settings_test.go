package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// agentFake records writes to the single-row agent table.
type agentFake struct {
	mu       sync.Mutex
	rowJSON  string // empty means the table is empty
	patches  []map[string]interface{}
	inserts  []map[string]interface{}
	patchIDs []string
}

func (f *agentFake) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		assert.Equal(t, "/rest/v1/agent", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			if f.rowJSON == "" {
				fmt.Fprint(w, "[]")
			} else {
				fmt.Fprintf(w, "[%s]", f.rowJSON)
			}
		case http.MethodPatch:
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			f.patches = append(f.patches, payload)
			f.patchIDs = append(f.patchIDs, r.URL.Query().Get("id"))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			f.inserts = append(f.inserts, payload)
			w.WriteHeader(http.StatusCreated)
		}
	}
}

func TestLoadAgentStateAppliesLatestRow(t *testing.T) {
	fake := &agentFake{rowJSON: `{"id": 7, "mode": "manager", "active": false, "sent_new_user": true, "bot_response_delay_minutes": 12, "created_at": "2024-03-01T00:00:00Z"}`}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	require.NoError(t, settings.LoadAgentState(context.Background()))

	snapshot := state.Settings()
	assert.False(t, snapshot.AgentMode)
	assert.False(t, snapshot.AgentActive)
	assert.True(t, snapshot.SentNewUser)
	assert.Equal(t, 12, snapshot.BotResponseDelayMinutes)
}

func TestLoadAgentStateEmptyTableIsNoop(t *testing.T) {
	fake := &agentFake{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	require.NoError(t, settings.LoadAgentState(context.Background()))
	assert.True(t, state.Settings().AgentMode, "defaults survive an empty table")
}

func TestToggleAgentModePatchesLatestRow(t *testing.T) {
	fake := &agentFake{rowJSON: `{"id": 7, "mode": "agent", "active": true, "created_at": "2024-03-01T00:00:00Z"}`}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	snapshot := settings.ToggleAgentMode(context.Background())
	assert.False(t, snapshot.AgentMode)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.patches, 1)
	assert.Equal(t, "eq.7", fake.patchIDs[0])
	assert.Equal(t, "manager", fake.patches[0]["mode"])
	assert.Equal(t, true, fake.patches[0]["active"])
	assert.Empty(t, fake.inserts)
}

func TestToggleAgentModeInsertsWhenTableEmpty(t *testing.T) {
	fake := &agentFake{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	state := newTestState(false)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	snapshot := settings.ToggleAgentMode(context.Background())
	assert.True(t, snapshot.AgentMode)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.inserts, 1)
	insert := fake.inserts[0]
	assert.Equal(t, "agent", insert["mode"])
	assert.NotContains(t, insert, "created_at", "insert lets the remote assign the timestamp")
	assert.Contains(t, insert, "sent_new_user")
	assert.Contains(t, insert, "bot_response_delay_minutes")
	assert.Empty(t, fake.patches)
}

func TestToggleAgentActiveSurvivesRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	snapshot := settings.ToggleAgentActive(context.Background())
	assert.False(t, snapshot.AgentActive)
	// sync is fire-and-forget, the local flip stands
	assert.False(t, state.Settings().AgentActive)
}

func TestSetBotResponseDelay(t *testing.T) {
	fake := &agentFake{rowJSON: `{"id": 3, "mode": "agent", "created_at": "2024-03-01T00:00:00Z"}`}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	snapshot := settings.SetBotResponseDelay(context.Background(), 25)
	assert.Equal(t, 25, snapshot.BotResponseDelayMinutes)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.patches, 1)
	assert.Equal(t, float64(25), fake.patches[0]["bot_response_delay_minutes"])
}

func TestSettingsUpdateIsLocalOnly(t *testing.T) {
	state := newTestState(true)
	settings := NewSettingsStore(state, newTestClient(state), nil)

	url := "https://example.supabase.co"
	key := "new-key"
	delay := 5
	snapshot := settings.Update(SettingsUpdate{
		SupabaseURL:             &url,
		SupabaseAnonKey:         &key,
		BotResponseDelayMinutes: &delay,
	})

	assert.Equal(t, url, snapshot.SupabaseURL)
	assert.Equal(t, key, snapshot.SupabaseAnonKey)
	assert.Equal(t, 5, snapshot.BotResponseDelayMinutes)

	// the shared client reads the new credentials on its next request
	gotURL, gotKey := state.Credentials()
	assert.Equal(t, url, gotURL)
	assert.Equal(t, key, gotKey)
}
