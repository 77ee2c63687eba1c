package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the server and sweeper
// processes. Values are loaded from environment variables with sane
// defaults so the binaries can run locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// PushEndpoint is the HTTP fallback for actors without a live
	// websocket session. Empty disables HTTP push.
	PushEndpoint string

	// IndexRadiusMiles is the coarse upper bound the proximity index
	// enforces; per-driver radii are applied exactly on top of it.
	IndexRadiusMiles float64

	// MatchLookahead caps how far past a driver's availability start a
	// ride time may fall and still match.
	MatchLookahead time.Duration

	// Sweep intervals for the lifecycle scheduler.
	ExpireAvailabilityEvery time.Duration
	FailStaleRidesEvery     time.Duration
	StatusNudgeEvery        time.Duration
	AutoCancelEvery         time.Duration
	ReminderEvery           time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		RedisGeoKey: "drivers_geo",
		KafkaTopic:  "ride-events",

		IndexRadiusMiles: 50,
		MatchLookahead:   24 * time.Hour,

		ExpireAvailabilityEvery: 5 * time.Minute,
		FailStaleRidesEvery:     1 * time.Minute,
		StatusNudgeEvery:        30 * time.Minute,
		AutoCancelEvery:         time.Hour,
		ReminderEvery:           15 * time.Minute,

		LogLevel: "info",
	}
}

func Load() (Config, error) {
	cfg := defaults()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")

	setFloatFromEnv(&cfg.IndexRadiusMiles, "INDEX_RADIUS_MILES", &errs)
	setDurationFromEnv(&cfg.MatchLookahead, "MATCH_LOOKAHEAD", &errs)

	setDurationFromEnv(&cfg.ExpireAvailabilityEvery, "SWEEP_EXPIRE_AVAILABILITY_EVERY", &errs)
	setDurationFromEnv(&cfg.FailStaleRidesEvery, "SWEEP_FAIL_STALE_RIDES_EVERY", &errs)
	setDurationFromEnv(&cfg.StatusNudgeEvery, "SWEEP_STATUS_NUDGE_EVERY", &errs)
	setDurationFromEnv(&cfg.AutoCancelEvery, "SWEEP_AUTO_CANCEL_EVERY", &errs)
	setDurationFromEnv(&cfg.ReminderEvery, "SWEEP_REMINDER_EVERY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.IndexRadiusMiles <= 0 {
		errs = append(errs, fmt.Errorf("INDEX_RADIUS_MILES must be > 0"))
	}
	if cfg.MatchLookahead <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_LOOKAHEAD must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
