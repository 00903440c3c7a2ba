package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// ListenAddr is the address the HTTP server binds to
	ListenAddr string

	// Supabase connection settings
	SupabaseURL     string
	SupabaseAnonKey string

	// Booking API settings
	BookingAPIURL string
	BookingToken  string

	// Path to the local sqlite database
	DatabasePath string

	// Default bot response delay in minutes
	BotResponseDelayMinutes int

	// ReloadIntervalSeconds is the period of the background full reload;
	// 0 disables the loop
	ReloadIntervalSeconds int
}

// Load reads configuration from .env (if present) and the environment.
func Load() *Config {
	// .env is optional, environment variables win
	_ = godotenv.Load()

	return &Config{
		ListenAddr:              getEnv("LISTEN_ADDR", ":8080"),
		SupabaseURL:             getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:         getEnv("SUPABASE_ANON_KEY", ""),
		BookingAPIURL:           getEnv("BOOKING_API_URL", "https://klientiks.ru/clientix/restapi/add/a/61ce3c58eaf0/u/edd7a5545a63/t/1fa5b4b0d9f4dcb850f58e7c460501f1/m/Appointments"),
		BookingToken:            getEnv("BOOKING_API_TOKEN", "1fa5b4b0d9f4dcb850f58e7c460501f1"),
		DatabasePath:            getEnv("DATABASE_PATH", "./chatdesk.db"),
		BotResponseDelayMinutes: getEnvInt("BOT_RESPONSE_DELAY_MINUTES", 5),
		ReloadIntervalSeconds:   getEnvInt("RELOAD_INTERVAL_SECONDS", 60),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
