package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"runbox/internal/common/cache"
	commonmw "runbox/internal/common/http/middleware"
	"runbox/internal/common/mq"
	"runbox/internal/execution/controller"
	"runbox/internal/execution/repository"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/engine"
	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/observer"
	"runbox/internal/execution/sandbox/profile"
	"runbox/internal/execution/sandbox/runner"
	"runbox/internal/execution/service"
	"runbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/exec_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "exec service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	registry, err := profile.DefaultRegistry(appCfg.Languages...)
	if err != nil {
		return fmt.Errorf("build language registry: %w", err)
	}
	if err := runner.CheckRegistry(registry); err != nil {
		return fmt.Errorf("check language registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observer.NewPrometheusRecorder(promRegistry)

	provider, err := environment.NewLocalProvider(appCfg.Sandbox.toLocalConfig())
	if err != nil {
		return fmt.Errorf("init workspace provider: %w", err)
	}
	engines, err := buildEngines(appCfg.Sandbox)
	if err != nil {
		return err
	}

	orchestrator, err := sandbox.NewOrchestrator(sandbox.Config{Isolation: appCfg.Sandbox.Isolation}, sandbox.Dependencies{
		Registry: registry,
		Provider: provider,
		Runner:   runner.NewRunnerWithObserver(appCfg.runnerConfig(), metrics),
		Engines:  engines,
		Metrics:  metrics,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	svcCfg := appCfg.serviceConfig()
	svcCfg.Sandbox = orchestrator
	svcCfg.Registry = registry

	if appCfg.Redis.Enabled() {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		statusRepo, err := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
		if err != nil {
			return fmt.Errorf("init status repository: %w", err)
		}
		svcCfg.Cache = redisCache
		svcCfg.StatusRepo = statusRepo
		if appCfg.Status.Timeout > 0 {
			svcCfg.Timeouts.Status = appCfg.Status.Timeout
		}
	}

	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.Enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		svcCfg.MQ = mqClient
		svcCfg.Events = repository.NewMQSessionEventPublisher(mqClient, appCfg.Status.EventTopic)
	}

	execSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init execution service: %w", err)
	}
	if svcCfg.StatusRepo != nil {
		orchestrator.SetStatusReporter(execSvc)
	}

	if mqClient != nil {
		limiter := mq.NewTokenLimiter(appCfg.Kafka.Concurrency)
		if err := mqClient.Subscribe(ctx, appCfg.Kafka.RequestTopic, execSvc.HandleMessage, appCfg.Kafka.subscribeOptions(limiter)); err != nil {
			return fmt.Errorf("subscribe kafka: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	httpServer := buildHTTPServer(appCfg.Server, execSvc, promRegistry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "exec http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("supervisor", appCfg.Sandbox.Supervisor),
			zap.String("isolation", string(appCfg.Sandbox.Isolation)),
			zap.Int("languages", registry.Len()),
			zap.Bool("async", mqClient != nil),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildEngines(cfg SandboxConfig) (sandbox.EngineFactory, error) {
	if cfg.Supervisor == supervisorDelegated {
		return sandbox.DelegatedEngines(cfg.Engine), nil
	}
	eng, err := engine.NewEngine(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("init sandbox engine: %w", err)
	}
	return sandbox.FixedEngine(eng), nil
}

func buildHTTPServer(cfg ServerConfig, execSvc controller.ExecutionService, gatherer prometheus.Gatherer) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.NewExecutionController(execSvc).RegisterRoutes(router)
	router.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
