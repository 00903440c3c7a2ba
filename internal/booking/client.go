// Package booking forwards appointment requests to the external scheduling
// API as form-encoded posts with a fixed bearer token.
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Request is one appointment to create.
type Request struct {
	UserID   int64
	DoctorID int64
	Time     time.Time
	TimePlus time.Time
	Services []int64
}

// Result classifies the external API's answer: either a confirmed
// appointment or a human-readable rejection reason.
type Result struct {
	Created       bool
	AppointmentID string
	Reason        string
	Raw           map[string]interface{}
}

type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
}

func NewClient(apiURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     apiURL,
		token:      token,
	}
}

// CreateAppointment forwards the request. A transport failure comes back as
// an error; a business-rule rejection comes back as a Result with
// Created=false and a Reason assembled from the per-field error messages.
func (c *Client) CreateAppointment(ctx context.Context, r Request) (*Result, error) {
	form := url.Values{}
	form.Set("client_id", strconv.FormatInt(r.UserID, 10))
	form.Set("executor_id", strconv.FormatInt(r.DoctorID, 10))
	form.Set("status", "scheduled")
	form.Set("start_datetime", r.Time.Format("2006-01-02"))
	form.Set("start_time", r.Time.Format("15:04:05"))
	form.Set("finish_datetime", r.TimePlus.Format("2006-01-02"))
	form.Set("finish_time", r.TimePlus.Format("15:04:05"))
	form.Set("appointed_services", joinServices(r.Services))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("booking: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("booking: read response: %w", err)
	}

	var payload struct {
		Status bool                   `json:"status"`
		Errors map[string]interface{} `json:"errors"`
		Object struct {
			ID json.Number `json:"id"`
		} `json:"object"`
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)

	if resp.StatusCode >= 400 {
		return &Result{
			Created: false,
			Reason:  fmt.Sprintf("external API returned %d", resp.StatusCode),
			Raw:     raw,
		}, nil
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return &Result{Created: false, Reason: "unreadable response from external API", Raw: raw}, nil
	}

	if len(payload.Errors) > 0 {
		return &Result{Created: false, Reason: flattenErrors(payload.Errors), Raw: raw}, nil
	}

	if !payload.Status {
		return &Result{Created: false, Reason: "unknown error from external API", Raw: raw}, nil
	}

	return &Result{
		Created:       true,
		AppointmentID: payload.Object.ID.String(),
		Raw:           raw,
	}, nil
}

func joinServices(services []int64) string {
	parts := make([]string, 0, len(services))
	for _, s := range services {
		parts = append(parts, strconv.FormatInt(s, 10))
	}
	return strings.Join(parts, ",")
}

// flattenErrors joins the external API's per-field error messages into one
// readable reason.
func flattenErrors(fields map[string]interface{}) string {
	reasons := make([]string, 0, len(fields))
	for _, v := range fields {
		switch val := v.(type) {
		case []interface{}:
			for _, item := range val {
				reasons = append(reasons, fmt.Sprint(item))
			}
		default:
			reasons = append(reasons, fmt.Sprint(val))
		}
	}
	return strings.Join(reasons, ". ")
}
