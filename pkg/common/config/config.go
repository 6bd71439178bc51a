package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (job dispatch)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka (notifications)
	KafkaBrokers           []string
	KafkaNotificationTopic string

	// Feed ingestion
	FeedRegistryPath        string
	FetchTimeout            time.Duration
	ConsecutiveFailureLimit int
	ScheduleInterval        time.Duration

	// Circuit breaker
	ExpirySpikeThreshold float64
	URLHashSpikeRatio    float64

	// Dry runs
	DryRunSampleSize  int
	DryRunErrorSample int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "feedgate"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "feedgate123"),
		PostgresDB:       getEnv("POSTGRES_DB", "feedgate"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:           getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaNotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "feedgate.notifications"),

		FeedRegistryPath:        getEnv("FEED_REGISTRY_PATH", "feeds.yml"),
		FetchTimeout:            getDuration("FETCH_TIMEOUT", 30*time.Second),
		ConsecutiveFailureLimit: getIntEnv("CONSECUTIVE_FAILURE_LIMIT", 5),
		ScheduleInterval:        getDuration("SCHEDULE_INTERVAL", time.Minute),

		ExpirySpikeThreshold: getFloatEnv("EXPIRY_SPIKE_THRESHOLD", 20.0),
		URLHashSpikeRatio:    getFloatEnv("URL_HASH_SPIKE_RATIO", 0.5),

		DryRunSampleSize:  getIntEnv("DRY_RUN_SAMPLE_SIZE", 50),
		DryRunErrorSample: getIntEnv("DRY_RUN_ERROR_SAMPLES", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
