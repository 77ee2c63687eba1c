package app

import (
	"log/slog"

	"github.com/example/ride-hail/internal/actors"
	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/config"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/lifecycle"
	"github.com/example/ride-hail/internal/logging"
	"github.com/example/ride-hail/internal/match"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/rides"
	"github.com/example/ride-hail/internal/store"
)

// App wires the core once for both the server and sweeper binaries.
// Env-driven with fallbacks: without Redis/Postgres/Kafka configured it
// runs fully in-process, which is what local development and the tests
// use.
type App struct {
	Logger *slog.Logger

	Store store.Store
	Index geo.DriverIndex

	Notifier notify.Notifier
	WSReg    *notify.WSRegistry
	Events   events.Publisher
	Cache    cache.Invalidator

	Actors       *actors.Registry
	Availability *availability.Registry
	Rides        *rides.Registry
	Engine       *match.Engine
	Sweeper      *lifecycle.Sweeper
	Scheduler    *lifecycle.Scheduler

	PG *store.PostgresStore // nil when running on the memory store
}

func Build(cfg config.Config) (*App, error) {
	logger := logging.NewLogger(cfg.LogLevel)
	a := &App{Logger: logger}

	if cfg.PGDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		a.PG = pg
		a.Store = pg
	} else {
		a.Store = store.NewMemoryStore()
	}

	if cfg.RedisAddr != "" {
		a.Index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		a.Cache = cache.NewRedisInvalidator(cfg.RedisAddr, cfg.RedisPassword, "session:")
	} else {
		a.Index = geo.NewMemoryIndex()
		a.Cache = cache.Nop{}
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.Events = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		a.Events = events.Nop{}
	}

	a.WSReg = notify.NewWSRegistry(logging.Component(logger, "ws"))
	a.Notifier = notify.NewPushNotifier(a.WSReg, cfg.PushEndpoint, logging.Component(logger, "notify"))

	a.Availability = &availability.Registry{
		Store:    a.Store,
		Index:    a.Index,
		Notifier: a.Notifier,
		Events:   a.Events,
		Cache:    a.Cache,
		Logger:   logging.Component(logger, "availability"),
	}
	a.Engine = &match.Engine{
		Store:            a.Store,
		Index:            a.Index,
		Availability:     a.Availability,
		Logger:           logging.Component(logger, "match"),
		IndexRadiusMiles: cfg.IndexRadiusMiles,
		Lookahead:        cfg.MatchLookahead,
	}
	a.Rides = &rides.Registry{
		Store:    a.Store,
		Index:    a.Index,
		Finder:   a.Engine,
		Notifier: a.Notifier,
		Events:   a.Events,
		Cache:    a.Cache,
		Logger:   logging.Component(logger, "rides"),
	}
	a.Actors = &actors.Registry{
		Store:        a.Store,
		Availability: a.Availability,
		Cache:        a.Cache,
		Logger:       logging.Component(logger, "actors"),
	}
	a.Sweeper = &lifecycle.Sweeper{
		Store:        a.Store,
		Availability: a.Availability,
		Rides:        a.Rides,
		Notifier:     a.Notifier,
		Events:       a.Events,
		Logger:       logging.Component(logger, "lifecycle"),
	}
	a.Scheduler = &lifecycle.Scheduler{
		Sweeper: a.Sweeper,
		Intervals: lifecycle.Intervals{
			CloseExpiredAvailability: cfg.ExpireAvailabilityEvery,
			FailStaleOpenRides:       cfg.FailStaleRidesEvery,
			NudgeStalledMatches:      cfg.StatusNudgeEvery,
			AutoCancelAbandoned:      cfg.AutoCancelEvery,
			RideReminders:            cfg.ReminderEvery,
		},
	}
	return a, nil
}
