package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tokenrelay/tokenrelay/internal/archive"
	"github.com/tokenrelay/tokenrelay/internal/config"
	"github.com/tokenrelay/tokenrelay/internal/httpapi"
	"github.com/tokenrelay/tokenrelay/internal/logstore"
	"github.com/tokenrelay/tokenrelay/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx := context.Background()

	natsServer, err := logstore.NewEmbeddedServer(cfg.NATSStoreDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start embedded NATS")
	}

	nc, err := natsServer.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to embedded NATS")
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get JetStream context")
	}
	store, err := logstore.NewJetStream(js)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize log store")
	}

	var writer *archive.BatchWriter
	var archiver *archive.Archiver
	if cfg.DatabaseURL != "" {
		pool, err := archive.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		if err := archive.RunMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}

		writer = archive.NewBatchWriter(pool, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
		archiver = archive.NewArchiver(store, writer)
	} else {
		log.Info().Msg("DATABASE_URL not set, stream archival disabled")
	}

	publisher := stream.NewPublisher(store, stream.Config{
		PollInterval:      time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ReadBatch:         cfg.ReadBatchSize,
		DrainBatch:        cfg.DrainBatchSize,
		KeepaliveInterval: time.Duration(cfg.KeepaliveSecs) * time.Second,
		MaxDuration:       time.Duration(cfg.MaxStreamSecs) * time.Second,
	})
	ingester := stream.NewIngester(store)

	api := httpapi.New(store, publisher, ingester, archiver)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: api.Router(),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("nats_store", cfg.NATSStoreDir).
			Bool("archival", archiver != nil).
			Msg("token relay started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.Shutdown(shutdownCtx)
	if writer != nil {
		writer.Shutdown(shutdownCtx)
	}
	nc.Drain()
	natsServer.Shutdown()
	log.Info().Msg("shutdown complete")
}
