package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatdesk/internal/models"
)

func seedUsers(state *State, users ...models.User) {
	state.mu.Lock()
	state.users = users
	state.mu.Unlock()
}

func TestUserLoadMapsRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/user_clients", r.URL.Path)
		assert.Equal(t, "0-999999", r.Header.Get("Range"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		fmt.Fprint(w, `[
			{"chat_id": "u1", "name": "Anna", "is_active": false, "tags": ["vip"]},
			{"chat_id": "u2", "phone": "+100", "username": "bob"}
		]`)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	users := NewUserStore(state, newTestClient(state))

	require.NoError(t, users.Load(context.Background()))

	all := state.Users()
	require.Len(t, all, 2)
	assert.Equal(t, "u1", all[0].ID)
	assert.Equal(t, "Anna", all[0].Name)
	assert.False(t, all[0].IsActive)
	assert.Equal(t, []string{"vip"}, all[0].Tags)

	// absent is_active defaults to active, absent tags to an empty slice
	assert.True(t, all[1].IsActive)
	assert.NotNil(t, all[1].Tags)
	assert.Empty(t, all[1].Tags)
}

func TestUserLoadEmptyResponseIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	seedUsers(state, models.User{ID: "u1", Name: "keep me", IsActive: true})
	users := NewUserStore(state, newTestClient(state))

	require.NoError(t, users.Load(context.Background()))

	all := state.Users()
	require.Len(t, all, 1, "empty response must not reset the directory")
	assert.Equal(t, "keep me", all[0].Name)
}

func TestUserLoadNotConfiguredIsNoop(t *testing.T) {
	state := newTestState(true)
	seedUsers(state, models.User{ID: "u1", IsActive: true})
	users := NewUserStore(state, newTestClient(state))

	require.NoError(t, users.Load(context.Background()))
	assert.Len(t, state.Users(), 1)
}

func TestToggleUserActiveCommitsOnSuccess(t *testing.T) {
	var patched atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("chat_id"))
		patched.Store(true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	seedUsers(state, models.User{ID: "u1", IsActive: true})
	users := NewUserStore(state, newTestClient(state))

	require.NoError(t, users.ToggleUserActive(context.Background(), "u1"))
	assert.True(t, patched.Load())
	assert.False(t, state.Users()[0].IsActive)
}

func TestToggleUserActiveRollsBackOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	seedUsers(state, models.User{ID: "u1", IsActive: true})
	users := NewUserStore(state, newTestClient(state))

	require.Error(t, users.ToggleUserActive(context.Background(), "u1"))
	assert.True(t, state.Users()[0].IsActive, "flag restored after remote failure")
}

func TestToggleUserActiveUnknownUser(t *testing.T) {
	state := newTestState(true)
	users := NewUserStore(state, newTestClient(state))
	require.NoError(t, users.ToggleUserActive(context.Background(), "nope"))
}

func TestBulkToggleRollsBackPerUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	seedUsers(state,
		models.User{ID: "u1", IsActive: true},
		models.User{ID: "u2", IsActive: false},
	)
	users := NewUserStore(state, newTestClient(state))

	require.Error(t, users.DeactivateAll(context.Background()))

	// each user gets its own previous value back, not a uniform flip
	all := state.Users()
	assert.True(t, all[0].IsActive)
	assert.False(t, all[1].IsActive)
}

func TestBulkToggleCommitsOnSuccess(t *testing.T) {
	var gotFilter atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter.Store(r.URL.Query().Get("chat_id"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	state := newTestState(true)
	connectState(state, server.URL)
	seedUsers(state,
		models.User{ID: "u1", IsActive: false},
		models.User{ID: "u2", IsActive: false, CreatedAt: time.Now()},
	)
	users := NewUserStore(state, newTestClient(state))

	require.NoError(t, users.ActivateAll(context.Background()))
	assert.Equal(t, "not.is.null", gotFilter.Load())
	for _, u := range state.Users() {
		assert.True(t, u.IsActive)
	}
}
