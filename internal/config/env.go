package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	StorageRoot  string

	EmbedProvider string
	AIAPIKey      string
	EmbedModel    string
	EmbedDim      int
	OpenAIBaseURL string

	VisionProvider   string
	VisionModel      string
	InferenceURL     string
	InferenceTimeout time.Duration

	CPUWorkers      int
	VisionBatchSize int
	ChunkWords      int
	ExtractTimeout  time.Duration
	LinkFetchRPS    float64

	RedisURL string
	NatsURL  string

	GithubToken        string
	GithubOwner        string
	GithubSyncInterval time.Duration

	JWTSecret    string
	LogFile      string
	AppEnv       string
	Port         string
	OtelEnabled  bool
	OtelEndpoint string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "dropvault-uploads"),
		StorageRoot:  getEnv("STORAGE_ROOT", "./uploads"),

		EmbedProvider: getEnv("EMBED_PROVIDER", "gemini"),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "http://localhost:11434/v1"),

		VisionProvider:   getEnv("VISION_PROVIDER", "sidecar"),
		VisionModel:      getEnv("VISION_MODEL", "gemini-1.5-flash"),
		InferenceURL:     getEnv("INFERENCE_URL", "http://localhost:9000"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 10*time.Minute),

		CPUWorkers:      getEnvInt("CPU_WORKERS", 4),
		VisionBatchSize: getEnvInt("VISION_BATCH_SIZE", 12),
		ChunkWords:      getEnvInt("CHUNK_WORDS", 300),
		ExtractTimeout:  getEnvDuration("EXTRACT_TIMEOUT", 60*time.Second),
		LinkFetchRPS:    getEnvFloat("LINK_FETCH_RPS", 2),

		RedisURL: getEnv("REDIS_URL", ""),
		NatsURL:  getEnv("NATS_URL", ""),

		GithubToken:        getEnv("GITHUB_TOKEN", ""),
		GithubOwner:        getEnv("GITHUB_OWNER", ""),
		GithubSyncInterval: getEnvDuration("GITHUB_SYNC_INTERVAL", 0),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		LogFile:      getEnv("LOG_FILE", "logs/dropvault.log"),
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		OtelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
