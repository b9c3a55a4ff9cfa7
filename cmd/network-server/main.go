package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/application"
	"github.com/lorawan-server/lorawan-server-go/internal/config"
	"github.com/lorawan-server/lorawan-server-go/internal/network"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/network-server.yml", "configuration file path")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("load configuration failed")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database failed")
	}
	defer store.Close()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		log.Fatal().Err(err).Msg("connect NATS failed")
	}
	defer nc.Close()

	dispatcher := application.NewDispatcher(nc, store)

	processor, err := network.NewProcessor(nc, store, dispatcher, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create processor failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := processor.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("processor stopped")
			cancel()
		}
	}()

	log.Info().Str("net_id", cfg.Network.NetID).Msg("network server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
}
