package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mhorvath/guest-notify/internal/api"
	"github.com/mhorvath/guest-notify/internal/cache"
	"github.com/mhorvath/guest-notify/internal/config"
	"github.com/mhorvath/guest-notify/internal/gateway"
	"github.com/mhorvath/guest-notify/internal/logging"
	"github.com/mhorvath/guest-notify/internal/observability"
	"github.com/mhorvath/guest-notify/internal/ratelimit"
	"github.com/mhorvath/guest-notify/internal/repo"
	"github.com/mhorvath/guest-notify/internal/scheduler"
	"github.com/mhorvath/guest-notify/internal/session"
	"github.com/mhorvath/guest-notify/internal/trigger"
	"github.com/mhorvath/guest-notify/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Init("guest-notify", cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	queueRepo := repo.NewPostgresQueueRepo(db)
	eventRepo := repo.NewPostgresEventRepo(db)
	sessionRepo := repo.NewPostgresSessionRepo(db)

	reg := prometheus.NewRegistry()
	observability.Register(reg)

	gw := gateway.NewClient(cfg.Gateway.BaseURL, gateway.Options{
		ControlTimeout: cfg.Gateway.StatusTimeout,
		SendTimeout:    cfg.Gateway.SendTimeout,
	})

	sessions := session.NewRegistry(sessionRepo, gw)
	limiter := ratelimit.New(queueRepo)

	w := worker.New(queueRepo, eventRepo, limiter, sessions, gw, cfg.Worker.RateLimitPerHour)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		profiles := cache.NewRedisProfileCache(rdb, cfg.Redis.TTL)
		w = w.WithProfileCache(profiles)
		sessions = sessions.WithProfileCache(profiles)
		log.Info("sender profile cache enabled", "addr", cfg.Redis.Address)
	}

	sched, err := scheduler.New(cfg.Worker.Interval, w.Tick)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var templates trigger.TemplateSource
	if cfg.Trigger.TemplatesPath != "" {
		fs, err := trigger.NewFileSource(cfg.Trigger.TemplatesPath)
		if err != nil {
			return err
		}
		templates = fs
	} else {
		log.Warn("TEMPLATES_PATH not set, status changes will not enqueue anything")
		templates = trigger.NewStaticSource(nil)
	}
	engine := trigger.NewEngine(templates, queueRepo)

	handler := api.NewHandler(sched, queueRepo, eventRepo, sessions, gw, engine)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.Router(handler, reg),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
