package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// URL generation modes. Signed mode hands out short-lived presigned GET
// URLs; public mode assumes the bucket is world-readable and returns the
// permanent object URL.
const (
	URLModeSigned = "signed"
	URLModePublic = "public"
)

// Config holds everything the service reads from the environment at
// startup. There is no dynamic reconfiguration.
type Config struct {
	Port           string
	BucketName     string
	AWSRegion      string
	MongoURI       string
	MongoDB        string
	GeminiAPIKey   string
	GeminiEndpoint string
	URLMode        string
	SignedURLTTL   time.Duration
	JWTSecret      string
	MaxUploadBytes int64
}

// Load reads configuration from the process environment. Call godotenv.Load
// first if a .env file should be honored.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		BucketName:     os.Getenv("BUCKET_NAME"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", "imagehub"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiEndpoint: getEnv("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com"),
		URLMode:        getEnv("URL_MODE", URLModeSigned),
		JWTSecret:      os.Getenv("JWT_SECRET"),
	}

	if cfg.BucketName == "" {
		return nil, errors.New("BUCKET_NAME is required")
	}
	if cfg.MongoURI == "" {
		return nil, errors.New("MONGO_URI is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.URLMode != URLModeSigned && cfg.URLMode != URLModePublic {
		return nil, errors.New("URL_MODE must be \"signed\" or \"public\"")
	}

	ttlSeconds, err := strconv.Atoi(getEnv("SIGNED_URL_TTL", "3600"))
	if err != nil || ttlSeconds <= 0 {
		return nil, errors.New("SIGNED_URL_TTL must be a positive number of seconds")
	}
	cfg.SignedURLTTL = time.Duration(ttlSeconds) * time.Second

	maxBytes, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "10485760"), 10, 64)
	if err != nil || maxBytes <= 0 {
		return nil, errors.New("MAX_UPLOAD_BYTES must be a positive number")
	}
	cfg.MaxUploadBytes = maxBytes

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
