package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

type Config struct {
	HTTPAddr                string
	StoreBackend            string
	FirebaseCredentialsPath string
	FirebaseProjectID       string
	DatabaseURL             string
	ChatURL                 string
	AuthToken               string
	JWTSecret               []byte
	SeedFile                string
	PushNotifications       bool
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	config := Config{
		HTTPAddr:                getenv("HTTP_ADDR", ":8080"),
		StoreBackend:            getenv("STORE_BACKEND", BackendMemory),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		ChatURL:                 os.Getenv("CHAT_URL"),
		AuthToken:               os.Getenv("AUTH_TOKEN"),
		JWTSecret:               []byte(os.Getenv("JWT_SECRET")),
		SeedFile:                os.Getenv("SEED_FILE"),
	}

	if raw := os.Getenv("PUSH_NOTIFICATIONS"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("PUSH_NOTIFICATIONS: %w", err)
		}
		config.PushNotifications = enabled
	}

	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFirestore:
		if c.FirebaseCredentialsPath == "" && c.FirebaseProjectID == "" {
			return fmt.Errorf("STORE_BACKEND=firestore needs FIREBASE_CREDENTIALS_PATH or FIREBASE_PROJECT_ID")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET not set")
	}
	if c.PushNotifications && c.FirebaseCredentialsPath == "" {
		glog.Warningf("[Config] PUSH_NOTIFICATIONS set without FIREBASE_CREDENTIALS_PATH, using default credentials")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
