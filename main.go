package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"chatdesk/internal/api"
	"chatdesk/internal/booking"
	"chatdesk/internal/config"
	"chatdesk/internal/database"
	"chatdesk/internal/models"
	"chatdesk/internal/realtime"
	"chatdesk/internal/store"
	"chatdesk/internal/supabase"
)

func main() {
	cfg := config.Load()

	// Initialize local database
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	// Settings: environment defaults, overridden by the persisted row
	settings := models.Settings{
		ID:                      "1",
		AgentMode:               true,
		AgentActive:             true,
		BotResponseDelayMinutes: cfg.BotResponseDelayMinutes,
		SupabaseURL:             cfg.SupabaseURL,
		SupabaseAnonKey:         cfg.SupabaseAnonKey,
		UpdatedAt:               time.Now(),
	}
	if stored, err := db.GetSettings(); err == nil {
		settings = *stored
		if cfg.SupabaseURL != "" {
			settings.SupabaseURL = cfg.SupabaseURL
		}
		if cfg.SupabaseAnonKey != "" {
			settings.SupabaseAnonKey = cfg.SupabaseAnonKey
		}
		log.Printf("Restored settings from local database")
	} else if !errors.Is(err, sql.ErrNoRows) {
		log.Printf("Failed to load persisted settings: %v", err)
	}

	state := store.NewState(settings)
	sb := supabase.NewClient(state.Credentials)

	chatStore := store.NewChatStore(state, sb)
	userStore := store.NewUserStore(state, sb)
	ignoreStore := store.NewIgnoreStore(state, sb)
	followupStore := store.NewFollowupStore(state, sb)
	settingsStore := store.NewSettingsStore(state, sb, db)

	adapter := realtime.NewAdapter(chatStore, state.Credentials)
	bookingClient := booking.NewClient(cfg.BookingAPIURL, cfg.BookingToken)

	// Initial load from the remote store, then the realtime subscription
	go func() {
		ctx := context.Background()
		if err := settingsStore.LoadAgentState(ctx); err != nil {
			log.Printf("Initial agent state load failed: %v", err)
		}
		if err := userStore.Load(ctx); err != nil {
			log.Printf("Initial user load failed: %v", err)
		}
		if err := ignoreStore.Load(ctx); err != nil {
			log.Printf("Initial ignore list load failed: %v", err)
		}
		if err := followupStore.Load(ctx); err != nil {
			log.Printf("Initial followup load failed: %v", err)
		}
		if err := chatStore.LoadMessages(ctx, "", false); err != nil {
			log.Printf("Initial message load failed: %v", err)
		}
		if err := adapter.Subscribe(); err != nil {
			log.Printf("Realtime subscribe failed: %v", err)
		}
	}()

	// Periodic full reload; reconverges the derived chats with whatever the
	// realtime feed delivered in the meantime
	if cfg.ReloadIntervalSeconds > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.ReloadIntervalSeconds) * time.Second)
			defer ticker.Stop()

			for range ticker.C {
				ctx := context.Background()
				if err := chatStore.LoadMessages(ctx, "", false); err != nil {
					log.Printf("Periodic message reload failed: %v", err)
				}
				if err := userStore.Load(ctx); err != nil {
					log.Printf("Periodic user reload failed: %v", err)
				}
			}
		}()
	}

	// Initialize API handlers
	apiHandler := api.NewHandler(state, chatStore, userStore, ignoreStore, followupStore, settingsStore, adapter, bookingClient)

	// Setup Gin router
	r := gin.Default()

	// Setup CORS; the booking proxy is called from third-party pages, so
	// origins stay fully open
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
	})

	// API routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/chats", apiHandler.GetChats)
		v1.GET("/chats/:id", apiHandler.GetChat)
		v1.GET("/chats/:id/messages", apiHandler.GetChatMessages)
		v1.POST("/chats/:id/messages", apiHandler.SendMessage)
		v1.DELETE("/chats/:id/messages", apiHandler.DeleteChatMessages)
		v1.POST("/messages/reload", apiHandler.ReloadMessages)
		v1.PATCH("/messages/:id", apiHandler.UpdateMessageStatus)
		v1.GET("/messages/search", apiHandler.SearchMessages)
		v1.GET("/stats/messages", apiHandler.GetMessageStats)
		v1.GET("/users", apiHandler.GetUsers)
		v1.POST("/users/:id/toggle", apiHandler.ToggleUser)
		v1.POST("/users/activate-all", apiHandler.ActivateAllUsers)
		v1.POST("/users/deactivate-all", apiHandler.DeactivateAllUsers)
		v1.GET("/ignore", apiHandler.GetIgnoreList)
		v1.POST("/ignore", apiHandler.AddToIgnoreList)
		v1.DELETE("/ignore/:id", apiHandler.RemoveFromIgnoreList)
		v1.GET("/followups", apiHandler.GetFollowups)
		v1.POST("/followups", apiHandler.CreateFollowup)
		v1.PATCH("/followups/:id", apiHandler.UpdateFollowup)
		v1.DELETE("/followups/:id", apiHandler.DeleteFollowup)
		v1.GET("/settings", apiHandler.GetSettings)
		v1.POST("/settings/toggle-agent-mode", apiHandler.ToggleAgentMode)
		v1.POST("/settings/toggle-agent-active", apiHandler.ToggleAgentActive)
		v1.POST("/settings/toggle-sent-new-user", apiHandler.ToggleSentNewUser)
		v1.PATCH("/settings", apiHandler.UpdateSettings)
		v1.GET("/realtime/status", apiHandler.GetRealtimeStatus)
		v1.POST("/realtime/subscribe", apiHandler.SubscribeRealtime)
		v1.POST("/realtime/unsubscribe", apiHandler.UnsubscribeRealtime)
		v1.GET("/ws", apiHandler.WebSocketHandler)
		v1.POST("/appointments", apiHandler.CreateAppointment)
	}

	// Serve static files
	r.Static("/static", "./web/build/static")
	r.StaticFile("/", "./web/build/index.html")

	// Start server with CORS
	handler := c.Handler(r)
	log.Println("Server starting on", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, handler))
}
