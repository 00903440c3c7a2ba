package booking

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		UserID:   42,
		DoctorID: 7,
		Time:     time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		TimePlus: time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC),
		Services: []int64{100, 200},
	}
}

func TestCreateAppointmentFormEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "42", r.PostForm.Get("client_id"))
		assert.Equal(t, "7", r.PostForm.Get("executor_id"))
		assert.Equal(t, "scheduled", r.PostForm.Get("status"))
		assert.Equal(t, "2024-03-15", r.PostForm.Get("start_datetime"))
		assert.Equal(t, "10:30:00", r.PostForm.Get("start_time"))
		assert.Equal(t, "2024-03-15", r.PostForm.Get("finish_datetime"))
		assert.Equal(t, "11:00:00", r.PostForm.Get("finish_time"))
		assert.Equal(t, "100,200", r.PostForm.Get("appointed_services"))

		fmt.Fprint(w, `{"status": true, "object": {"id": 555}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "555", result.AppointmentID)
	assert.Empty(t, result.Reason)
	assert.NotNil(t, result.Raw)
}

func TestCreateAppointmentTransportFailure(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestCreateAppointmentHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "external API returned 403", result.Reason)
}

func TestCreateAppointmentBusinessRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": false, "errors": {"start_time": ["slot already taken", "outside working hours"]}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Contains(t, result.Reason, "slot already taken")
	assert.Contains(t, result.Reason, "outside working hours")
}

func TestCreateAppointmentStatusFalseWithoutErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": false}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "unknown error from external API", result.Reason)
}

func TestCreateAppointmentUnreadableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok-1")
	result, err := client.CreateAppointment(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "unreadable response from external API", result.Reason)
}

func TestFlattenErrors(t *testing.T) {
	reason := flattenErrors(map[string]interface{}{
		"client_id": []interface{}{"not found"},
	})
	assert.Equal(t, "not found", reason)

	reason = flattenErrors(map[string]interface{}{"field": "plain message"})
	assert.Equal(t, "plain message", reason)

	multi := flattenErrors(map[string]interface{}{
		"a": []interface{}{"one", "two"},
	})
	assert.Equal(t, "one. two", multi)
}
