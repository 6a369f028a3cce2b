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

	"judgebox/internal/common/cache"
	"judgebox/internal/common/db"
	commonmw "judgebox/internal/common/http/middleware"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/storage"
	"judgebox/internal/exec/controller"
	"judgebox/internal/exec/judge"
	"judgebox/internal/exec/repository"
	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/observer"
	"judgebox/internal/exec/sandbox/registry"
	"judgebox/internal/exec/session"
	"judgebox/internal/exec/transport"
	problemrepo "judgebox/internal/problem/repository"
	problemservice "judgebox/internal/problem/service"
	progresscontroller "judgebox/internal/progress/controller"
	progressrepo "judgebox/internal/progress/repository"
	progressservice "judgebox/internal/progress/service"
	"judgebox/pkg/utils/logger"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/exec_service.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Optional dotenv file loaded before the config")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
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
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	var prom *observer.PrometheusRecorder
	if appCfg.Metrics.Enabled {
		prom = observer.NewPrometheusRecorder()
		metrics = prom
	}

	reg, err := registry.NewLocalRegistry(appCfg.Languages)
	if err != nil {
		return fmt.Errorf("init language registry: %w", err)
	}
	runner, err := engine.NewLocalRunner(appCfg.Engine)
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	judger, err := judge.NewJudge(reg, runner, metrics, appCfg.Judge)
	if err != nil {
		return fmt.Errorf("init judge: %w", err)
	}

	var packs *problemrepo.DataPackLoader
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		packs = problemrepo.NewDataPackLoader(objStorage, appCfg.Problems.DataPackBucket, appCfg.Problems.DataPackMaxBytes, appCfg.Problems.DataPackTTL)
	}

	var store problemrepo.ProblemStore
	switch appCfg.Problems.Source {
	case problemSourceMySQL:
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		closers = append(closers, mysqlDB.Close)
		store = problemrepo.NewMySQLStore(mysqlDB, packs)
	default:
		fileStore, err := problemrepo.LoadFileStore(appCfg.Problems.Dir, packs)
		if err != nil {
			return fmt.Errorf("load problems: %w", err)
		}
		logger.Info(ctx, "problems loaded", zap.Strings("ids", fileStore.IDs()))
		store = fileStore
	}

	var redisCache *cache.RedisCache
	if appCfg.Progress.Backend == progressBackendRedis || appCfg.RateLimit.Enabled {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		closers = append(closers, redisCache.Close)
	}

	var limiter *commonmw.RateLimiter
	if appCfg.RateLimit.Enabled {
		limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Window, appCfg.RateLimit.CacheTimeout)
	}

	var progressRepo progressrepo.ProgressRepository
	switch appCfg.Progress.Backend {
	case progressBackendRedis:
		progressRepo = progressrepo.NewRedisProgressRepository(redisCache, appCfg.Progress.HistoryLimit)
	default:
		progressRepo = progressrepo.NewMemoryProgressRepository(appCfg.Progress.HistoryLimit)
	}
	progressSvc := progressservice.NewProgressService(progressRepo)

	publisher, closePublisher, err := buildPublisher(appCfg)
	if err != nil {
		return err
	}
	closers = append(closers, closePublisher)

	factory := func(id string) transport.Session {
		return session.New(id, session.Deps{
			Resolver: reg,
			Runner:   runner,
			Metrics:  metrics,
			Config:   appCfg.Session,
		})
	}
	wsHandler := transport.NewHandler(factory, transport.NewHub(), metrics, appCfg.WebSocket)

	authenticator := commonmw.NewAuthenticator(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))
	router.Use(requestLogger())
	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok", "sessions": wsHandler.Hub().Count(), "judgeInFlight": judger.InFlight()})
	})
	if prom != nil {
		router.GET(appCfg.Metrics.Path, gin.WrapH(prom.Handler()))
	}

	authed := router.Group("/")
	authed.Use(commonmw.AuthMiddleware(authenticator, appCfg.Auth))
	authed.GET("/ws/execute", commonmw.RateLimitMiddleware(limiter, "execute", appCfg.RateLimit), wsHandler.ServeWS)
	judged := authed.Group("/", commonmw.RateLimitMiddleware(limiter, "judge", appCfg.RateLimit))
	controller.NewJudgeController(judger, problemservice.NewProblemService(store), progressSvc, publisher).Register(judged)
	progresscontroller.NewProgressController(progressSvc).Register(authed)

	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if prom != nil {
		go prom.CollectHost(shutdownCtx, appCfg.Metrics.HostInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "exec http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	drainCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	// hijacked websocket connections are not tracked by http.Server
	wsHandler.Hub().Shutdown(drainCtx)
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return serveErr
}

func buildPublisher(appCfg *AppConfig) (repository.ResultPublisher, func() error, error) {
	var queue mq.MessageQueue
	switch appCfg.Events.Driver {
	case eventsDriverKafka:
		kafkaQueue, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return nil, nil, fmt.Errorf("init kafka: %w", err)
		}
		queue = kafkaQueue
	case eventsDriverRabbitMQ:
		rabbitQueue, err := mq.NewRabbitQueue(appCfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		queue = rabbitQueue
	default:
		return repository.NoopResultPublisher{}, func() error { return nil }, nil
	}
	return repository.NewMQResultPublisher(queue, appCfg.Events.Topic), queue.Close, nil
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
