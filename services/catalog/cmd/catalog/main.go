package main

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/auth"
	platformconfig "github.com/example/movie-catalog/internal/platform/config"
	"github.com/example/movie-catalog/internal/platform/db"
	"github.com/example/movie-catalog/internal/platform/events"
	"github.com/example/movie-catalog/internal/platform/httpserver"
	"github.com/example/movie-catalog/internal/platform/logging"
	"github.com/example/movie-catalog/internal/platform/natsconn"
	"github.com/example/movie-catalog/internal/platform/run"
	"github.com/example/movie-catalog/services/catalog/internal/cache"
	catalogconfig "github.com/example/movie-catalog/services/catalog/internal/config"
	"github.com/example/movie-catalog/services/catalog/internal/handlers"
	"github.com/example/movie-catalog/services/catalog/internal/metrics"
	"github.com/example/movie-catalog/services/catalog/internal/movies"
	"github.com/example/movie-catalog/services/catalog/internal/outbox"
	"github.com/example/movie-catalog/services/catalog/internal/queue"
	"github.com/example/movie-catalog/services/catalog/internal/ratelimit"
	catalogstore "github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/syncrun"
	"github.com/example/movie-catalog/services/catalog/internal/tmdb"
)

const subjectMovieUpserted = "catalog.movie.upserted"

func main() {
	appCfg, err := platformconfig.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(appCfg.LogLevel, appCfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := catalogconfig.Load()
	if err != nil {
		log.Error("config", zap.Error(err))
		run.Exit(1)
	}

	// db
	pool, err := db.Open(context.Background())
	if err != nil {
		log.Error("db open", zap.Error(err))
		run.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(appCfg.DatabaseURL, catalogstore.Migrations, catalogstore.MigrationsDir, log); err != nil {
		log.Error("db migrate", zap.Error(err))
		run.Exit(1)
	}
	st := catalogstore.NewPostgresStore(pool)

	// tmdb
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: tmdb.IsBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.TMDBBreakerState.Set(float64(to))
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	limiter := ratelimit.NewRPS(cfg.TMDB.RPS)
	defer limiter.Stop()

	tmdbClient := tmdb.New(cfg.TMDB.BaseURL, tmdb.ClientConfig{
		AccessToken:    cfg.TMDB.AccessToken,
		MaxRetries:     cfg.TMDB.MaxRetries,
		RetryBaseDelay: cfg.TMDB.RetryBaseDelay,
		Timeout:        cfg.TMDB.Timeout,
	},
		tmdb.WithCircuitBreaker(cb),
		tmdb.WithLimiter(limiter),
		tmdb.WithLogger(log.Named("tmdb")),
		tmdb.WithChangeFilter(st.KnownExternalIDs),
	)

	// nats
	var (
		nc *nats.Conn
		js nats.JetStreamContext
	)
	if cfg.NATSURL != "" {
		nc, err = natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: appCfg.ServiceName, Log: log})
		if err != nil {
			log.Error("nats connect", zap.Error(err))
			run.Exit(1)
		}
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Error("jetstream", zap.Error(err))
			run.Exit(1)
		}
	} else {
		log.Warn("NATS_URL not set: outbox, lifecycle events and the job queue are disabled")
	}

	var (
		eventPub  *events.Publisher
		publisher *outbox.Publisher
	)
	if js != nil {
		publisher = outbox.NewPublisher(log.Named("outbox"), pool, js, cfg.Outbox)
		if err := publisher.EnsureStream(); err != nil {
			log.Error("outbox stream", zap.Error(err))
			run.Exit(1)
		}
		eventPub = events.New(js, log)
	}

	exec := &syncrun.GoExecutor{}
	coordinator := syncrun.New(st, st, tmdbClient, log.Named("sync"), syncrun.Options{
		ImageBaseURL: cfg.TMDB.ImageBaseURL,
		StaleAfter:   cfg.Sync.StaleAfter,
		Executor:     exec,
		Events:       eventPub,
	})

	// cache
	var movieOpts []movies.Option
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Error("redis", zap.Error(err))
			run.Exit(1)
		}
		defer func() { _ = redisCache.Close() }()
		movieOpts = append(movieOpts, movies.WithCache(redisCache))

		if nc != nil {
			inv := &cache.Invalidator{Cache: redisCache, Subject: subjectMovieUpserted, Prefix: movies.CachePrefix, Log: log}
			sub, err := inv.Subscribe(nc)
			if err != nil {
				log.Error("cache invalidation subscribe", zap.Error(err))
				run.Exit(1)
			}
			defer func() { _ = sub.Unsubscribe() }()
		}
	}
	movieSvc := movies.New(st, tmdbClient, log.Named("movies"), movieOpts...)

	// http
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: db.ReadyFunc(pool),
		Logger:    log,
		Metrics:   promhttp.Handler(),
	})
	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware)
		handlers.Mount(r, movieSvc, coordinator, auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}, log)
	})

	srv := httpserver.New(httpserver.Options{Addr: appCfg.HTTP.Addr, ServiceName: appCfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if publisher != nil {
			go func() {
				if err := publisher.Run(ctx); err != nil {
					log.Error("outbox publisher stopped", zap.Error(err))
				}
			}()
			worker := queue.NewWorker(log.Named("queue"), js, coordinator, cfg.Sync.QueueMaxDeliver)
			go func() {
				if err := worker.Run(ctx); err != nil {
					log.Error("queue worker stopped", zap.Error(err))
				}
			}()
			sched := &queue.Scheduler{
				Log:             log.Named("scheduler"),
				JS:              js,
				FullInterval:    cfg.Sync.FullInterval,
				ChangesInterval: cfg.Sync.ChangesInterval,
			}
			if sched.Enabled() {
				go sched.Run(ctx)
			}
		}
		return srv.Start(log)
	})

	runner.Graceful(
		srv.Shutdown,
		// Runs cannot be cancelled; anything still running is failed as stale by the next process.
		coordinator.Wait,
	)

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
