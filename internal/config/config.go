package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Autosave  AutosaveConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      string
	PublicDir string
	PublicURL string
	// TrustProxy honours X-Forwarded-For when keying per-address limits
	TrustProxy   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled bool
	Path    string
	URL     string
}

type AutosaveConfig struct {
	Interval time.Duration
	Keep     int
}

type RateLimitConfig struct {
	MessagesPerSecond    float64
	MessageBurst         int
	CreateRoomsPerMinute int
}

type LogConfig struct {
	Level       string
	Development bool
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	port := getEnvOrDefault("PORT", "8080")

	return &Config{
		Server: ServerConfig{
			Port:         port,
			PublicDir:    getEnvOrDefault("CODEROOM_PUBLIC_DIR", "./public"),
			PublicURL:    getEnvOrDefault("CODEROOM_PUBLIC_URL", "http://localhost:"+port),
			TrustProxy:   getBoolOrDefault("TRUST_PROXY", false),
			ReadTimeout:  getDurationOrDefault("READ_TIMEOUT", "15s"),
			WriteTimeout: getDurationOrDefault("WRITE_TIMEOUT", "15s"),
		},
		Database: DatabaseConfig{
			Enabled: getBoolOrDefault("CODEROOM_VERSIONS", true),
			Path:    getEnvOrDefault("CODEROOM_DB_PATH", "./data/coderoom.db"),
			URL:     os.Getenv("CODEROOM_DATABASE_URL"),
		},
		Autosave: AutosaveConfig{
			Interval: getDurationOrDefault("AUTOSAVE_INTERVAL", "2m"),
			Keep:     getIntOrDefault("AUTOSAVE_KEEP", 20),
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond:    float64(getIntOrDefault("WS_MESSAGES_PER_SECOND", 100)),
			MessageBurst:         getIntOrDefault("WS_MESSAGE_BURST", 200),
			CreateRoomsPerMinute: getIntOrDefault("CREATE_ROOM_PER_MINUTE", 30),
		},
		Log: LogConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "info"),
			Development: getBoolOrDefault("LOG_DEV", false),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Fatalf("Invalid boolean for %s: %v", key, err)
	}
	return boolValue
}
