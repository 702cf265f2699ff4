// xzaccess is the directory-backed access control service for the admin interface.
//
// Usage:
//
//	xzaccess [--dev] [--config path] [--addr :3100]
//
// Flags:
//
//	--dev     Start in dev mode: in-memory fake directory (no external deps)
//	--config  Path to xzaccess.yaml (default: configs/xzaccess.yaml)
//	--addr    Override server.addr from config
//
// Environment:
//
//	XZACCESS_BIND_PASSWORD  Directory bind password (if not set in config)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/xzaccess/internal/api"
	"github.com/ruslano69/xzaccess/internal/infra"
)

func main() {
	dev := flag.Bool("dev", false, "dev mode: in-memory fake directory")
	configPath := flag.String("config", "configs/xzaccess.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :3100)")
	flag.Parse()

	// Pretty console log; switch to JSON in production via log.Logger = zerolog.New(os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}

	inf, err := infra.Setup(cfg, *dev)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure setup failed")
	}
	defer inf.Close()

	if err := inf.Manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("access manager start failed")
	}

	router := api.NewRouter(inf.Manager)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("dev", *dev).
			Str("config", *configPath).
			Msg("xzaccess started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	inf.Manager.Stop()
	log.Info().Msg("stopped")
}
