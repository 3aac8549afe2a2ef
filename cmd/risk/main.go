package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/messaging"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/mysql"
	limitcache "github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/redis"
	"github.com/wyfcoding/riskengine/internal/risk/interfaces/consumer"
	grpc_server "github.com/wyfcoding/riskengine/internal/risk/interfaces/grpc"
	risk_http "github.com/wyfcoding/riskengine/internal/risk/interfaces/http"
	"github.com/wyfcoding/riskengine/pkg/cache"
	"github.com/wyfcoding/riskengine/pkg/config"
	"github.com/wyfcoding/riskengine/pkg/db"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
	"github.com/wyfcoding/riskengine/pkg/middleware"
	"github.com/wyfcoding/riskengine/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", config.GetEnv("RISK_CONFIG", "configs/risk/config.toml"), "path to config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "risk service exited: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info(ctx, "starting risk service",
		"service", cfg.ServiceName, "version", cfg.Version, "environment", cfg.Environment)

	// 3. Database
	gdb, err := db.Init(ctx, db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return err
	}
	defer gdb.Close()
	if err := mysql.AutoMigrate(gdb.DB); err != nil {
		return fmt.Errorf("migrate risk tables: %w", err)
	}

	m := metrics.New(cfg.ServiceName)

	// 4. Infrastructure
	var limits domain.RiskLimitRepository = mysql.NewRiskLimitRepository(gdb.DB)
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer redisCache.Close()
		limits = limitcache.NewCachedLimitRepository(limits, redisCache, cfg.Redis.LimitCacheTTL)
	}
	alerts := mysql.NewRiskAlertRepository(gdb.DB)
	txm := db.NewTxManager(gdb.DB)

	kafkaCfg := mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		GroupID:      cfg.Kafka.GroupID,
		MaxAttempts:  cfg.Kafka.MaxAttempts,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	}
	publisher := messaging.NewKafkaAlertPublisher(mq.NewWriter(kafkaCfg, cfg.Kafka.AlertTopic))
	defer publisher.Close()

	// 5. Application
	evaluation := application.NewEvaluationService(limits, alerts, txm, publisher,
		application.WithMetrics(m),
		application.WithPublishTimeout(cfg.Risk.PublishTimeout),
	)
	resilient := application.NewResilientEvaluator(evaluation, application.ResilienceConfig{
		Name:                 "risk-evaluation",
		RetryMaxTries:        cfg.Risk.RetryMaxTries,
		RetryInitialInterval: cfg.Risk.RetryInitialInterval,
		RetryMaxInterval:     cfg.Risk.RetryMaxInterval,
		FailureThreshold:     cfg.Risk.BreakerFailureThreshold,
		OpenTimeout:          cfg.Risk.BreakerOpenTimeout,
		HalfOpenMaxRequests:  cfg.Risk.BreakerHalfOpenMaxRequests,
	}, m)
	management := application.NewManagementService(limits, alerts, txm, m)

	// 6. Interfaces
	consumers := consumer.NewGroup(cfg.Kafka.Workers,
		func() mq.Reader { return mq.NewReader(kafkaCfg, cfg.Kafka.PositionTopic) },
		resilient, m,
		consumer.RedeliveryConfig{
			InitialInterval: cfg.Risk.RedeliveryInitialInterval,
			MaxInterval:     cfg.Risk.RedeliveryMaxInterval,
		},
	)
	defer consumers.Close()

	ready := func(ctx context.Context) error {
		sqlDB, err := gdb.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if redisCache != nil {
			if err := redisCache.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		if resilient.State() == gobreaker.StateOpen {
			return errors.New("risk evaluation circuit open")
		}
		return nil
	}

	grpcSrv := grpc_server.NewServer(m)

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinCorrelationMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(m),
	)
	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) {
			if err := ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "NOT_READY", "reason": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	if cfg.Environment != "prod" {
		pp := r.Group("/debug/pprof")
		{
			pp.GET("/", gin.WrapF(pprof.Index))
			pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			pp.GET("/profile", gin.WrapF(pprof.Profile))
			pp.GET("/symbol", gin.WrapF(pprof.Symbol))
			pp.GET("/trace", gin.WrapF(pprof.Trace))
		}
	}
	risk_http.NewRiskHandler(management).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// 7. Start
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return consumers.Run(gctx) })
	g.Go(func() error { return grpcSrv.Serve(gctx, cfg.GRPC.Addr()) })
	g.Go(func() error {
		grpcSrv.WatchReadiness(gctx, 10*time.Second, ready)
		return nil
	})
	g.Go(func() error {
		logger.Info(gctx, "HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	// 8. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down risk service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "risk service stopped with error", "error", err)
		return err
	}
	logger.Info(context.Background(), "risk service stopped")
	return nil
}
