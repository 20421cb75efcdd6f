package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formrelay/formrelay/handlers"
	"github.com/formrelay/formrelay/internal/config"
	"github.com/formrelay/formrelay/internal/database"
	"github.com/formrelay/formrelay/internal/dedup"
	"github.com/formrelay/formrelay/internal/intake/repository"
	"github.com/formrelay/formrelay/internal/notify"
	"github.com/formrelay/formrelay/internal/storage"
	"github.com/formrelay/formrelay/internal/watch"
	"github.com/formrelay/formrelay/pkg/logger"
	"github.com/formrelay/formrelay/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const shutdownGrace = 30 * time.Second

func main() {
	fmt.Println("Monitoring new form submissions")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	if cfg.Log.File != "" {
		closer, err := logger.OpenFile(cfg.Log.File)
		if err != nil {
			logger.Fatalf("failed to open log file: %v", err)
		}
		defer closer.Close()
	}
	logger.Infof("config loaded: db=%s collection=%s smtp=%s:%d recipients=%d interval=%s seen=%s",
		cfg.MongoDB.Database, cfg.MongoDB.Collection, cfg.SMTP.Host, cfg.SMTP.Port,
		len(cfg.Mail.Recipients), cfg.Watch.PollInterval, cfg.Seen.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Retry/backoff when connecting to MongoDB to tolerate startup races
	client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5, time.Second)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
	source := repository.NewMongoSource(col)

	seen, err := newSeenStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to set up seen store: %v", err)
	}

	opts := notify.OptionsFromConfig(cfg.Mail)
	if cfg.MinIO.Endpoint != "" {
		archive, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("attachment archive disabled: %v", err)
		} else {
			opts.Archiver = archive
			logger.Infof("archiving attachments to bucket %s", cfg.MinIO.Bucket)
		}
	}
	notifier := notify.New(notify.NewDialer(cfg.SMTP), opts)

	loop := watch.New(source, seen, notifier, cfg.Watch)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	srv := startOps(cfg.Ops.Addr, handlers.Ops{
		Ping:          source.Ping,
		HighWaterMark: loop.HighWaterMark,
		Started:       time.Now(),
	})

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("watch loop stopped: %v", err)
	}

	logger.Infof("shutting down, waiting up to %s for in-flight sends", shutdownGrace)
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := notifier.Wait(waitCtx); err != nil {
		logger.Warnf("in-flight sends did not finish: %v", err)
	}
	if srv != nil {
		_ = srv.Shutdown(waitCtx)
	}
}

// newSeenStore returns the memory store unless Redis was selected.
// With the memory store every restart resends the submissions still in the collection.
func newSeenStore(ctx context.Context, cfg *config.Config) (dedup.Store, error) {
	if cfg.Seen.Store != config.SeenStoreRedis {
		logger.Warnf("seen submissions are kept in memory only; a restart resends existing submissions")
		return dedup.NewMemoryStore(), nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s:%s: %w", cfg.Redis.Host, cfg.Redis.Port, err)
	}
	logger.Infof("Using Redis for seen submissions: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
	return dedup.NewRedisStore(rc, "", cfg.Seen.TTL), nil
}

func startOps(addr string, ops handlers.Ops) *http.Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterOps(r, ops)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("ops endpoints listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("ops server failed: %v", err)
		}
	}()
	return srv
}
