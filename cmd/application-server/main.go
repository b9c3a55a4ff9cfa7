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

	"github.com/lorawan-server/lorawan-server-go/internal/api"
	"github.com/lorawan-server/lorawan-server-go/internal/application"
	"github.com/lorawan-server/lorawan-server-go/internal/config"
	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/crypto"
)

func main() {
	configPath := flag.String("config", "config/application-server.yml", "configuration file path")
	adminPassword := flag.String("create-admin", "", "create the admin user with the given password and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("load configuration failed")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database failed")
	}
	defer store.Close()

	if *adminPassword != "" {
		createAdmin(store, *adminPassword)
		return
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		log.Fatal().Err(err).Msg("connect NATS failed")
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forwarder := application.NewForwarder(nc, cfg.MQTT)
	go func() {
		if err := forwarder.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("forwarder stopped")
		}
	}()

	server := api.NewRESTServer(cfg, store)
	go func() {
		if err := server.ListenAndServe(cfg.API.Addr()); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("API server stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	server.Shutdown(context.Background())
}

// createAdmin provisions the initial admin account.
func createAdmin(store storage.Store, password string) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("hash password failed")
	}

	user := &models.User{
		Email:        "admin@localhost",
		PasswordHash: hash,
		IsAdmin:      true,
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		log.Fatal().Err(err).Msg("create admin failed")
	}

	log.Info().Str("email", user.Email).Msg("admin user created")
}
