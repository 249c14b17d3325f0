package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/smpp-transport/internal/config"
	"github.com/nimasrn/smpp-transport/internal/correlator"
	"github.com/nimasrn/smpp-transport/internal/processor"
	"github.com/nimasrn/smpp-transport/internal/queue"
	"github.com/nimasrn/smpp-transport/internal/repository"
	"github.com/nimasrn/smpp-transport/internal/segmenter"
	"github.com/nimasrn/smpp-transport/internal/services"
	"github.com/nimasrn/smpp-transport/internal/session"
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
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}()

	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              cfg.QueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxDeliveries:     cfg.QueueMaxDeliveries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		DLQMaxLen:         cfg.QueueDLQMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	requestRepo := repository.NewSendRequestRepository(db)
	recordRepo := repository.NewDeliveryRecordRepository(db)

	statusService := services.NewStatusService(requestRepo, redisAdap)
	corr := correlator.New(
		correlator.NewMappingStore(redisAdap, cfg.DlrMappingTTL),
		recordRepo, requestRepo, statusService,
		correlator.Config{MissGrace: cfg.DlrMissGrace},
	)

	sess := session.New(session.Config{
		Addr:            cfg.SmppAddr(),
		SystemID:        cfg.SmppSystemID,
		Password:        cfg.SmppPassword,
		SystemType:      cfg.SmppSystemType,
		BindMode:        session.BindMode(cfg.SmppBindMode),
		AddrTON:         uint8(cfg.SmppBindTON),
		AddrNPI:         uint8(cfg.SmppBindNPI),
		EnquireInterval: cfg.SmppEnquireInterval,
		EnquireTimeout:  cfg.SmppEnquireTimeout,
		SubmitTimeout:   cfg.SmppSubmitTimeout,
		BindTimeout:     cfg.SmppBindTimeout,
		Backoff: session.BackoffConfig{
			Initial:         cfg.SmppBackoffInitial,
			Max:             cfg.SmppBackoffMax,
			Multiplier:      cfg.SmppBackoffMultiplier,
			StabilityWindow: cfg.SmppStabilityWindow,
		},
	},
		session.WithDeliverHandler(corr.HandleDeliver),
		session.WithStateListener(func(from, to session.State) {
			logger.Info("smpp session state", "from", from.String(), "to", to.String())
		}),
	)

	seg := segmenter.New(segmenter.WithPackedGSM7(cfg.SmppGSM7Packed))
	idempotency := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	smsProcessor := processor.NewSMSProcessor(sess, seg, requestRepo, corr, statusService, idempotency, processor.SMSConfig{
		SourceAddr:         cfg.SmppSourceAddr,
		SourceTON:          optionalUint8(cfg.SmppSourceTON),
		SourceNPI:          optionalUint8(cfg.SmppSourceNPI),
		ServiceType:        cfg.SmppServiceType,
		RegisteredDelivery: uint8(cfg.SmppRegisteredDelivery),
		MaxAttempts:        cfg.WorkerMaxAttempts,
		RetryBaseDelay:     cfg.WorkerRetryBaseDelay,
		RetryMaxDelay:      cfg.WorkerRetryMaxDelay,
		NotBoundBackoff:    cfg.WorkerNotBoundBackoff,
		MaxLifetime:        cfg.WorkerMaxLifetime,
	})
	sweeper := processor.NewExpirySweeper(requestRepo, recordRepo, corr, statusService, cfg.WorkerMaxLifetime, cfg.WorkerExpirySweepInterval)

	service := processor.NewProcessorService(redisAdap, q, smsProcessor, sweeper, requestRepo, processor.ServiceOptions{
		Concurrency: cfg.WorkerConcurrency,
		Ready:       sess.IsBound,
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := sess.Start(context.Background()); err != nil {
		logger.Error("failed to start smpp session", "error", err)
		return
	}
	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-c
	service.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sess.Stop(ctx); err != nil {
		logger.Warn("smpp session stop", "error", err)
	}
}

// optionalUint8 maps the negative "derive from address" config value to nil.
func optionalUint8(v int) *uint8 {
	if v < 0 || v > 255 {
		return nil
	}
	u := uint8(v)
	return &u
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
