package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr                string
	LogLevel                string
	LogFormat               string
	APIBaseURL              string
	APITimeoutSeconds       int64
	UserID                  string
	LearningLanguage        string
	NativeLanguage          string
	QueueTargetSize         int
	QueueMaxConcurrent      int
	QueueDiscardStale       bool
	VideoCacheDir           string
	VideoCacheMaxBytes      int64
	VideoCacheMaxAgeDays    int
	VideoCachePurgeHours    int
	VideoPreloadConcurrency int
	QuestionCacheBackend    string // disk | redis | mongo
	QuestionCacheDir        string
	RedisURL                string
	MongoURI                string // empty disables mongo
	MongoDatabase           string
	OTelEndpoint            string
	OTelSampleRate          float64
	CORSAllowedOrigins      []string
}

// LoadConfig reads the environment, after merging an optional .env file.
// Variables already set in the process environment win over the file.
func LoadConfig() Config {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	dataDir := getEnv("DATA_DIR", "data")
	return Config{
		HTTPAddr:                getEnv("HTTP_ADDR", ":8090"),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "text")),
		APIBaseURL:              strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000"), "/"),
		APITimeoutSeconds:       getEnvInt64("API_TIMEOUT_SECONDS", 15),
		UserID:                  getEnv("USER_ID", ""),
		LearningLanguage:        getEnv("LEARNING_LANGUAGE", "en"),
		NativeLanguage:          getEnv("NATIVE_LANGUAGE", "zh"),
		QueueTargetSize:         int(getEnvInt64("QUEUE_TARGET_SIZE", 20)),
		QueueMaxConcurrent:      int(getEnvInt64("QUEUE_MAX_CONCURRENT_FETCHES", 5)),
		QueueDiscardStale:       getEnvBool("QUEUE_DISCARD_STALE", true),
		VideoCacheDir:           getEnv("VIDEO_CACHE_DIR", filepath.Join(dataDir, "videos")),
		VideoCacheMaxBytes:      getEnvInt64("VIDEO_CACHE_MAX_BYTES", 500*1024*1024),
		VideoCacheMaxAgeDays:    int(getEnvInt64("VIDEO_CACHE_MAX_AGE_DAYS", 7)),
		VideoCachePurgeHours:    int(getEnvInt64("VIDEO_CACHE_PURGE_INTERVAL_HOURS", 6)),
		VideoPreloadConcurrency: int(getEnvInt64("VIDEO_PRELOAD_CONCURRENCY", 3)),
		QuestionCacheBackend:    strings.ToLower(getEnv("QUESTION_CACHE_BACKEND", "disk")),
		QuestionCacheDir:        getEnv("QUESTION_CACHE_DIR", filepath.Join(dataDir, "questions")),
		RedisURL:                getEnv("REDIS_URL", ""),
		MongoURI:                getEnv("MONGO_URI", ""),
		MongoDatabase:           getEnv("MONGO_DB", "dogetionary"),
		OTelEndpoint:            getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate:          getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		CORSAllowedOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
