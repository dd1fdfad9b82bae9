// Command gatewayd runs the provider gateway with its HTTP control plane.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	providergateway "github.com/opengovern/provider-gateway"
	"github.com/opengovern/provider-gateway/calllog"
	"github.com/opengovern/provider-gateway/config"
	"github.com/opengovern/provider-gateway/internal/api"
	"github.com/opengovern/provider-gateway/internal/keypair"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; the built-in catalog is used when empty")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	genKey := flag.String("gen-jwt-key", "", "write a new ECDSA P-256 key pair for jwt auth to <prefix>.pem and <prefix>.pub.pem, then exit")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()

	if *genKey != "" {
		pair, err := keypair.GenerateECDSA(nil)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate key pair")
		}
		privatePath, publicPath, err := pair.WriteFiles(*genKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to write key pair")
		}
		log.Info().Str("private", privatePath).Str("public", publicPath).Msg("generated jwt signing key pair")
		return
	}

	for _, f := range config.LoadEnvFiles(".env.local", ".env") {
		log.Info().Str("file", f).Msg("loaded environment file")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level := zerolog.InfoLevel
	if cfg.Server.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Server.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
			level = parsed
		}
	}
	log = log.Level(level)

	opts := []providergateway.Option{providergateway.WithLogger(log)}
	var calls api.CallLister
	if cfg.CallLog != nil {
		store, err := calllog.Open(*cfg.CallLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open call log")
		}
		defer store.Close()
		opts = append(opts, providergateway.WithCallRecorder(store))
		calls = store
	}

	gw := providergateway.New(opts...)
	gw.SetDebug(cfg.Server.Debug)
	if err := cfg.Apply(gw, os.Getenv); err != nil {
		log.Fatal().Err(err).Msg("failed to register providers")
	}

	if cfg.Server.AdminToken == "" {
		log.Warn().Msg("no server.admin_token set, /v1 routes are unauthenticated")
	}
	app := api.NewApp(api.NewHandler(gw, calls, log), cfg.Server.AdminToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("providers", len(gw.Status())).Msg("gateway listening")
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}
}
