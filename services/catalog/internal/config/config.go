package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// TMDBConfig holds upstream API settings.
type TMDBConfig struct {
	BaseURL        string
	ImageBaseURL   string
	AccessToken    string
	RPS            int
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

// BreakerConfig tunes the circuit breaker in front of TMDB.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type SyncConfig struct {
	// StaleAfter is how long a running run may go without a checkpoint.
	StaleAfter time.Duration
	// Zero intervals disable the scheduler for that mode.
	FullInterval    time.Duration
	ChangesInterval time.Duration
	QueueMaxDeliver int
}

type Config struct {
	TMDB      TMDBConfig
	Breaker   BreakerConfig
	Sync      SyncConfig
	Outbox    OutboxConfig
	NATSURL   string
	RedisURL  string
	CacheTTL  time.Duration
	JWTSecret string
}

func Load() (Config, error) {
	token := strings.TrimSpace(os.Getenv("TMDB_ACCESS_TOKEN"))
	if token == "" {
		return Config{}, errors.New("TMDB_ACCESS_TOKEN is required")
	}
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	baseURL := strings.TrimSpace(os.Getenv("TMDB_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org/3"
	}
	imageBase := strings.TrimSpace(os.Getenv("TMDB_IMAGE_BASE"))
	if imageBase == "" {
		imageBase = "https://image.tmdb.org/t/p"
	}

	return Config{
		TMDB: TMDBConfig{
			BaseURL:        strings.TrimRight(baseURL, "/"),
			ImageBaseURL:   strings.TrimRight(imageBase, "/"),
			AccessToken:    token,
			RPS:            envInt("TMDB_RPS", 20),
			MaxRetries:     envInt("TMDB_MAX_RETRIES", 3),
			RetryBaseDelay: envDuration("TMDB_RETRY_BASE_DELAY", time.Second),
			Timeout:        envDuration("TMDB_TIMEOUT", 10*time.Second),
		},
		Breaker: BreakerConfig{
			MaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 5)),
			Interval:         envDuration("CB_INTERVAL", 60*time.Second),
			Timeout:          envDuration("CB_TIMEOUT", 30*time.Second),
			FailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		},
		Sync: SyncConfig{
			StaleAfter:      envDuration("SYNC_STALE_AFTER", 30*time.Minute),
			FullInterval:    envDuration("SYNC_FULL_INTERVAL", 0),
			ChangesInterval: envDuration("SYNC_CHANGES_INTERVAL", 0),
			QueueMaxDeliver: envInt("SYNC_QUEUE_MAX_DELIVER", 5),
		},
		Outbox:    LoadOutbox(),
		NATSURL:   strings.TrimSpace(os.Getenv("NATS_URL")),
		RedisURL:  strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:  envDuration("CACHE_TTL", 5*time.Minute),
		JWTSecret: secret,
	}, nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// envDuration accepts "0" to mean disabled.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
