package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	ListenAddr string

	DatabaseURL string

	FossologyURL   string
	FossologyToken string
	SemgrepURL     string

	WorkspaceDir  string
	ScanQueueSize int

	PollInitial time.Duration
	PollMax     time.Duration
	PollTimeout time.Duration
}

// Load reads configuration from the environment, layering a .env file
// underneath when one is present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:            getenv("APP_ENV", "development"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		// Server root; the adapter appends /repo/api/v1 itself.
		FossologyURL:   getenv("FOSSOLOGY_URL", "http://localhost:8081"),
		FossologyToken: os.Getenv("FOSSOLOGY_API_TOKEN"),
		SemgrepURL:     getenv("SEMGREP_URL", "http://localhost:8082"),
		WorkspaceDir:   getenv("WORKSPACE_DIR", "/tmp/legalscan"),
		ScanQueueSize:  getenvInt("SCAN_QUEUE_SIZE", 100),
		PollInitial:    time.Duration(getenvInt("POLL_INITIAL_MS", 1000)) * time.Millisecond,
		PollMax:        time.Duration(getenvInt("POLL_MAX_MS", 30000)) * time.Millisecond,
		PollTimeout:    time.Duration(getenvInt("POLL_TIMEOUT_S", 600)) * time.Second,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}
