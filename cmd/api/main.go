package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/smpp-transport/internal/config"
	"github.com/nimasrn/smpp-transport/internal/handlers"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/internal/segmenter"
	"github.com/nimasrn/smpp-transport/internal/services"
	xhttp "github.com/nimasrn/smpp-transport/pkg/http"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/nimasrn/smpp-transport/pkg/pg"
	"github.com/nimasrn/smpp-transport/pkg/prom"
	"github.com/nimasrn/smpp-transport/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()

	if err := logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		logger.Error("failed to configure logger", "error", err)
		return
	}
	defer logger.Sync() //nolint
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	hostname, _ := os.Hostname()
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	// transport (tcp for now)
	opts := xhttp.DefaultServerOption.
		WithTimeouts(cfg.HttpServerReadTimeout, cfg.HttpServerWriteTimeout).
		WithBuffers(cfg.HttpServerReadBufferSize, cfg.HttpServerWriteBufferSize)
	opts.Name = cfg.AppName
	s := xhttp.NewServer(opts)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.MetricsMiddleware(prom.ObserveHTTPRequest))
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:          cfg.QueueName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  cfg.QueueConsumerName,
		DLQMaxLen:     cfg.QueueDLQMaxLen,
		EnableDLQ:     cfg.QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	requestRepo := repository.NewSendRequestRepository(db)

	// services
	smsService := services.NewSMSService(requestRepo, q, segmenter.New(segmenter.WithPackedGSM7(cfg.SmppGSM7Packed)))
	statusService := services.NewStatusService(requestRepo, redisAdap)

	// v1 handlers
	smsHandler := handlers.NewSMSHandler(smsService, statusService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Check{
		"postgres": db.Ping,
		"redis":    redisAdap.Ping,
	})

	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterSMSRoutes(g, smsHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
