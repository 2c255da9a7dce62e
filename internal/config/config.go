package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	PartyID       string
	Strategy      string
	Passphrase    string
	RelayURL      string
	TickInterval  time.Duration
	DrainBatch    int
	SweepInterval time.Duration
	// Queue bounds
	QueueCapacity        int
	BaseRetryDelay       time.Duration
	MaxRetryDelay        time.Duration
	MaxAttempts          int
	EmergencyMaxAttempts int
	// History bounds
	HistoryRetention time.Duration
	HistoryLimit     int
	// Storage backends - Redis by default, Postgres when DATABASE_URL is set
	RedisURL    string
	DatabaseURL string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTo       string
}

func Load() Config {
	return Config{
		PartyID:       getenv("TETHER_PARTY_ID", ""),
		Strategy:      getenv("TETHER_STRATEGY", "emergency-priority"),
		Passphrase:    getenv("TETHER_PASSPHRASE", ""),
		RelayURL:      getenv("TETHER_RELAY_URL", ""),
		TickInterval:  time.Duration(getenvInt("TETHER_TICK_SECONDS", 5)) * time.Second,
		DrainBatch:    getenvInt("TETHER_DRAIN_BATCH", 10),
		SweepInterval: time.Duration(getenvInt("TETHER_SWEEP_SECONDS", 60)) * time.Second,

		QueueCapacity:        getenvInt("TETHER_QUEUE_CAPACITY", 500),
		BaseRetryDelay:       time.Duration(getenvInt("TETHER_RETRY_BASE_MS", 2000)) * time.Millisecond,
		MaxRetryDelay:        time.Duration(getenvInt("TETHER_RETRY_MAX_SECONDS", 300)) * time.Second,
		MaxAttempts:          getenvInt("TETHER_MAX_ATTEMPTS", 3),
		EmergencyMaxAttempts: getenvInt("TETHER_EMERGENCY_MAX_ATTEMPTS", 10),

		HistoryRetention: time.Duration(getenvInt("TETHER_HISTORY_RETENTION_HOURS", 168)) * time.Hour,
		HistoryLimit:     getenvInt("TETHER_HISTORY_LIMIT", 100),

		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// SMTP - empty by default, email notifications disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Tether"),
		SMTPTo:       getenv("SMTP_TO", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
