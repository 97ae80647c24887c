package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from the
// environment (optionally via a .env file) with sensible defaults for
// local development.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO object storage for rendered audio
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	// Public base URL for serving cached audio (CDN or the /audio proxy route)
	AudioBaseURL string

	// TTS providers
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	DefaultProvider   string
	DefaultVoice      string
	ProviderTimeout   time.Duration

	// Transcription (forced alignment)
	TranscribeBaseURL string
	TranscribeModel   string

	// Segmenter planning heuristic
	WordsPerMinute int

	// Cache TTLs
	MemoryCacheTTL     time.Duration
	RedisCacheTTL      time.Duration
	PersistentCacheTTL time.Duration

	// Pre-generation worker pool
	WorkerConcurrency  int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	JobProcessingMax   time.Duration // jobs stuck in processing longer than this are reclaimed
	BudgetCeilingUSD   float64       // 0 disables the ceiling
	PopularLevels      []string      // levels pre-generated at high priority
	PregenLevels       []string      // full level matrix for a book
	PregenVoices       []string      // voice ids per provider, "provider:voice" pairs
	ChunksPerBookLimit int           // safety cap when enqueueing a whole book

	// Playback
	HighlightTickInterval time.Duration
	HighlightLeadOffset   time.Duration
	PrefetchAhead         int

	// Content subsystem (simplified book text)
	ContentBaseURL string

	// Logging
	LogLevel      string
	LogOutputPath string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration (e.g. "30s") or
// returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList gets a comma-separated environment variable as a slice.
func getEnvList(key string, fallback []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "readecho"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "readecho-audio"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		AudioBaseURL:   getEnv("AUDIO_BASE_URL", "/audio"),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		DefaultProvider:   getEnv("TTS_DEFAULT_PROVIDER", "openai"),
		DefaultVoice:      getEnv("TTS_DEFAULT_VOICE", "nova"),
		ProviderTimeout:   getEnvDuration("TTS_PROVIDER_TIMEOUT", 60*time.Second),

		TranscribeBaseURL: getEnv("TRANSCRIBE_BASE_URL", "https://api.openai.com/v1"),
		TranscribeModel:   getEnv("TRANSCRIBE_MODEL", "whisper-1"),

		WordsPerMinute: getEnvInt("SEGMENT_WORDS_PER_MINUTE", 150),

		MemoryCacheTTL:     getEnvDuration("CACHE_MEMORY_TTL", 10*time.Minute),
		RedisCacheTTL:      getEnvDuration("CACHE_REDIS_TTL", 24*time.Hour),
		PersistentCacheTTL: getEnvDuration("CACHE_PERSISTENT_TTL", 90*24*time.Hour),

		WorkerConcurrency:  getEnvInt("PREGEN_WORKERS", 5),
		MaxRetries:         getEnvInt("PREGEN_MAX_RETRIES", 3),
		RetryBaseDelay:     getEnvDuration("PREGEN_RETRY_BASE_DELAY", time.Second),
		JobProcessingMax:   getEnvDuration("PREGEN_JOB_PROCESSING_MAX", 10*time.Minute),
		BudgetCeilingUSD:   getEnvFloat("PREGEN_BUDGET_CEILING", 0),
		PopularLevels:      getEnvList("PREGEN_POPULAR_LEVELS", []string{"A2", "B1", "B2"}),
		PregenLevels:       getEnvList("PREGEN_LEVELS", []string{"A1", "A2", "B1", "B2", "C1", "C2"}),
		PregenVoices:       getEnvList("PREGEN_VOICES", []string{"openai:nova", "elevenlabs:rachel"}),
		ChunksPerBookLimit: getEnvInt("PREGEN_CHUNK_LIMIT", 2000),

		HighlightTickInterval: getEnvDuration("PLAYBACK_TICK_INTERVAL", 40*time.Millisecond),
		HighlightLeadOffset:   getEnvDuration("PLAYBACK_HIGHLIGHT_LEAD", 0),
		PrefetchAhead:         getEnvInt("PLAYBACK_PREFETCH_AHEAD", 1),

		ContentBaseURL: getEnv("CONTENT_BASE_URL", "http://127.0.0.1:8090"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogOutputPath: getEnv("LOG_OUTPUT_PATH", ""),
	}
}
