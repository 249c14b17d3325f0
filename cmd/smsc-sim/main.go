package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nimasrn/smpp-transport/internal/smsc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	smppAddr := getEnv("SMPP_LISTEN_ADDR", ":2775")
	httpPort := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 5*time.Second)

	logger := log.Logger
	srv := smsc.New(smsc.Config{
		Addr:         smppAddr,
		SystemID:     getEnv("SMPP_SYSTEM_ID", ""),
		Password:     getEnv("SMPP_PASSWORD", ""),
		DeliveryRate: deliveryRate,
		MinDelay:     minDelay,
		MaxDelay:     maxDelay,
		PackedGSM7:   getEnv("SMPP_GSM7_PACKED", "true") == "true",
		Logger:       &logger,
	})
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start SMSC")
	}

	log.Info().
		Str("smpp_addr", srv.Addr()).
		Str("http_port", httpPort).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting SMSC simulator")

	httpSrv := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      SetupRouter(NewHandler(srv)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("Control API started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start control API")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Control API forced to shutdown")
	}
	if err := srv.Close(); err != nil {
		log.Error().Err(err).Msg("SMSC close")
	}

	log.Info().Msg("Simulator exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
