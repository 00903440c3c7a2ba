package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatdesk/internal/booking"
	"chatdesk/internal/models"
	"chatdesk/internal/realtime"
	"chatdesk/internal/store"
)

type Handler struct {
	state     *store.State
	chats     *store.ChatStore
	users     *store.UserStore
	ignore    *store.IgnoreStore
	followups *store.FollowupStore
	settings  *store.SettingsStore
	adapter   *realtime.Adapter
	booking   *booking.Client
	upgrader  websocket.Upgrader
}

func NewHandler(
	state *store.State,
	chats *store.ChatStore,
	users *store.UserStore,
	ignore *store.IgnoreStore,
	followups *store.FollowupStore,
	settings *store.SettingsStore,
	adapter *realtime.Adapter,
	bookingClient *booking.Client,
) *Handler {
	return &Handler{
		state:     state,
		chats:     chats,
		users:     users,
		ignore:    ignore,
		followups: followups,
		settings:  settings,
		adapter:   adapter,
		booking:   bookingClient,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// --- chats and messages ---

func (h *Handler) GetChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chats": h.chats.ActiveChats()})
}

func (h *Handler) GetChat(c *gin.Context) {
	chat, ok := h.chats.GetChatByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) GetChatMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.chats.GetChatMessages(c.Param("id"))})
}

type SendMessageRequest struct {
	Text          string `json:"text" binding:"required"`
	IsUserMessage bool   `json:"is_user_message"`
	UseTestTable  bool   `json:"use_test_table"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := c.Param("id")
	id, err := h.chats.SendMessage(c.Request.Context(), chatID, req.Text, req.IsUserMessage, req.UseTestTable)
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		// message stays in the local collection with its temporary id
		log.Printf("Message for chat %s kept locally after persist failure: %v", chatID, err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message_id": id})
}

func (h *Handler) ReloadMessages(c *gin.Context) {
	chatID := c.Query("chat_id")
	alternate := c.Query("table") == "test"

	if err := h.chats.LoadMessages(c.Request.Context(), chatID, alternate); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reload messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type UpdateMessageStatusRequest struct {
	Processed *bool   `json:"processed"`
	Status    *string `json:"status"`
	Answer    *bool   `json:"answer"`
}

func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	var req UpdateMessageStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.chats.UpdateMessageStatus(c.Request.Context(), c.Param("id"), store.MessageStatusUpdate{
		Processed: req.Processed,
		Status:    req.Status,
		Answer:    req.Answer,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to update message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) DeleteChatMessages(c *gin.Context) {
	if err := h.chats.DeleteChatMessages(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to delete chat messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing query parameter q"})
		return
	}

	messages, err := h.chats.SearchMessages(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) GetMessageStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.chats.MessageStats()})
}

// --- users ---

func (h *Handler) GetUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.state.Users()})
}

func (h *Handler) ToggleUser(c *gin.Context) {
	if err := h.users.ToggleUserActive(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to toggle user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ActivateAllUsers(c *gin.Context) {
	if err := h.users.ActivateAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to activate users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) DeactivateAllUsers(c *gin.Context) {
	if err := h.users.DeactivateAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to deactivate users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- ignore list ---

func (h *Handler) GetIgnoreList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ignored": h.ignore.IgnoredUsers()})
}

type AddIgnoreRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) AddToIgnoreList(c *gin.Context) {
	var req AddIgnoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ignore.Add(c.Request.Context(), req.UserID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to add to ignore list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) RemoveFromIgnoreList(c *gin.Context) {
	if err := h.ignore.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to remove from ignore list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- followups ---

type followupView struct {
	models.Followup
	TriggerTime time.Time `json:"trigger_time"`
}

func (h *Handler) GetFollowups(c *gin.Context) {
	followups := h.state.Followups()
	views := make([]followupView, 0, len(followups))
	for _, f := range followups {
		views = append(views, followupView{Followup: f, TriggerTime: f.TriggerTime()})
	}
	c.JSON(http.StatusOK, gin.H{"followups": views})
}

type CreateFollowupRequest struct {
	Text            string `json:"text" binding:"required"`
	IntervalMinutes int    `json:"interval_minutes" binding:"required"`
	IsDefault       bool   `json:"is_default"`
	ChatID          string `json:"chat_id"`
}

func (h *Handler) CreateFollowup(c *gin.Context) {
	var req CreateFollowupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.followups.Add(c.Request.Context(), req.Text, req.IntervalMinutes, req.IsDefault, req.ChatID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create followup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

type UpdateFollowupRequest struct {
	Text            string `json:"text" binding:"required"`
	IntervalMinutes int    `json:"interval_minutes" binding:"required"`
}

func (h *Handler) UpdateFollowup(c *gin.Context) {
	var req UpdateFollowupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.followups.Update(c.Request.Context(), c.Param("id"), req.Text, req.IntervalMinutes); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to update followup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) DeleteFollowup(c *gin.Context) {
	if err := h.followups.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to delete followup"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- settings ---

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": h.state.Settings()})
}

func (h *Handler) ToggleAgentMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": h.settings.ToggleAgentMode(c.Request.Context())})
}

func (h *Handler) ToggleAgentActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": h.settings.ToggleAgentActive(c.Request.Context())})
}

func (h *Handler) ToggleSentNewUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"settings": h.settings.ToggleSentNewUser(c.Request.Context())})
}

type UpdateSettingsRequest struct {
	SupabaseURL             *string `json:"supabase_url"`
	SupabaseAnonKey         *string `json:"supabase_anon_key"`
	BotResponseDelayMinutes *int    `json:"bot_response_delay_minutes"`
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.BotResponseDelayMinutes != nil && req.SupabaseURL == nil && req.SupabaseAnonKey == nil {
		// a lone delay change is mirrored to the remote agent row
		c.JSON(http.StatusOK, gin.H{"settings": h.settings.SetBotResponseDelay(c.Request.Context(), *req.BotResponseDelayMinutes)})
		return
	}

	settings := h.settings.Update(store.SettingsUpdate{
		SupabaseURL:             req.SupabaseURL,
		SupabaseAnonKey:         req.SupabaseAnonKey,
		BotResponseDelayMinutes: req.BotResponseDelayMinutes,
	})
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// --- realtime ---

func (h *Handler) GetRealtimeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connected": h.adapter.Connected()})
}

func (h *Handler) SubscribeRealtime(c *gin.Context) {
	if err := h.adapter.Subscribe(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) UnsubscribeRealtime(c *gin.Context) {
	h.adapter.Unsubscribe()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// WebSocketHandler lets dashboard clients poll connectivity over one socket.
func (h *Handler) WebSocketHandler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("WebSocket read error: %v", err)
			break
		}

		switch msg["type"] {
		case "ping":
			conn.WriteJSON(map[string]interface{}{
				"type": "pong",
			})
		case "realtime_status":
			conn.WriteJSON(map[string]interface{}{
				"type":      "realtime_status",
				"connected": h.adapter.Connected(),
			})
		}
	}
}

// --- booking proxy ---

type AppointmentRequest struct {
	UserID   *int64  `json:"user_id"`
	DoctorID *int64  `json:"doctor_id"`
	Time     string  `json:"time"`
	TimePlus string  `json:"timeplus"`
	Services []int64 `json:"services"`
}

// CreateAppointment validates the request, then forwards it to the
// external scheduling API. Validation failures and business-rule
// rejections are 400; transport failures to the third party are 500.
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req AppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	if req.UserID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: user_id"})
		return
	}
	if req.DoctorID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: doctor_id"})
		return
	}
	if req.Time == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: time"})
		return
	}
	if req.TimePlus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: timeplus"})
		return
	}
	if len(req.Services) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Services must be a non-empty array"})
		return
	}

	start, err := parseTimestamp(req.Time)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time"})
		return
	}
	finish, err := parseTimestamp(req.TimePlus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timeplus"})
		return
	}
	if !finish.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timeplus must be after time"})
		return
	}

	result, err := h.booking.CreateAppointment(c.Request.Context(), booking.Request{
		UserID:   *req.UserID,
		DoctorID: *req.DoctorID,
		Time:     start,
		TimePlus: finish,
		Services: req.Services,
	})
	if err != nil {
		log.Printf("Appointment request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to connect to external API"})
		return
	}

	if !result.Created {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Failed to create appointment",
			"reason":  result.Reason,
			"details": result.Raw,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Appointment created successfully",
		"appointment_id": result.AppointmentID,
		"data":           result.Raw,
	})
}

func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
