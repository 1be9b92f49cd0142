package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/config"
	"github.com/amq-core/brokerqueue/internal/dedup"
	"github.com/amq-core/brokerqueue/internal/limiter"
	"github.com/amq-core/brokerqueue/internal/management"
	"github.com/amq-core/brokerqueue/internal/monitor"
	"github.com/amq-core/brokerqueue/internal/persister"
	"github.com/amq-core/brokerqueue/internal/persister/memory"
	"github.com/amq-core/brokerqueue/internal/persister/postgres"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
	"github.com/amq-core/brokerqueue/internal/supervisor"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting broker node")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wal persister.Persister
	var dbPool *pgxpool.Pool
	dbPool, err = pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Warn("failed to connect to postgres, falling back to in-memory persister", zap.Error(err))
		wal = memory.New()
	} else if pingErr := dbPool.Ping(ctx); pingErr != nil {
		logger.Warn("failed to ping postgres, falling back to in-memory persister", zap.Error(pingErr))
		dbPool.Close()
		dbPool = nil
		wal = memory.New()
	} else {
		logger.Info("connected to postgres")
		wal = postgres.New(dbPool)
	}

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	var redisClient *goredis.Client
	var dedupStore dedup.Store
	if err != nil {
		logger.Warn("invalid redis url, dedup disabled", zap.Error(err))
	} else {
		redisClient = goredis.NewClient(redisOpts)
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			logger.Warn("failed to connect to redis, dedup disabled", zap.Error(pingErr))
			redisClient = nil
		} else {
			logger.Info("connected to redis")
			dedupStore = dedup.NewRedisStore(redisClient, cfg.Broker.DedupTTL)
		}
	}

	lim := limiter.NewSimple()
	mon := monitor.New()

	qcfg := queue.Config{
		UnsentLimit:    cfg.Broker.UnsentLimit,
		HibernateAfter: cfg.Broker.HibernateAfter,
	}.WithDefaults()

	reg := registry.New(qcfg, wal, lim, logger)
	sv := supervisor.New(reg,
		time.Duration(cfg.Broker.ReconnectBaseMs)*time.Millisecond,
		time.Duration(cfg.Broker.ReconnectMaxMs)*time.Millisecond,
		logger)

	router := management.NewRouter(&management.Deps{
		Registry:   reg,
		Supervisor: sv,
		Monitor:    mon,
		Dedup:      dedupStore,
		Logger:     logger,
		DBPool:     dbPool,
		Redis:      redisClient,
	})

	mgmtSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Broker.ManagementPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("management server listening", zap.String("addr", mgmtSrv.Addr))
		if err := mgmtSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("management server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down broker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mgmtSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("management server shutdown error", zap.Error(err))
	}

	for _, name := range reg.Names() {
		if p, ok := reg.Lookup(name); ok {
			sv.Forget(name)
			p.Delete(false, false)
		}
	}

	if dbPool != nil {
		dbPool.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	cancel()
	logger.Info("broker stopped")
}
