package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"labkeeper.org/internal/audit"
	"labkeeper.org/internal/auth"
	"labkeeper.org/internal/config"
	"labkeeper.org/internal/httpapi"
	"labkeeper.org/internal/obs"
	"labkeeper.org/internal/schema"
	"labkeeper.org/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if path, err := config.LoadDotEnv(); err != nil {
		log.Fatalf("config: %v", err)
	} else if path != "" {
		log.Printf("loaded environment from %s", path)
	}
	cfg, err := config.ParseServer(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// регистрация метрик
	obs.Init()
	obs.InitBuildInfo(version, commit)

	h, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	guard, err := schema.New(h, schema.WithMaintenanceDB(cfg.MaintenanceDB))
	if err != nil {
		log.Fatalf("schema: %v", err)
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	err = guard.Init(initCtx)
	cancelInit()
	if err != nil {
		_ = h.Close()
		log.Fatalf("schema init: %v", err)
	}

	recorder := audit.NewRecorder(store.NewActivity(h))
	svc, err := auth.NewService(store.NewAccounts(h), guard, recorder)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	api := httpapi.New(
		httpapi.ReadyProbe{Store: h, Schema: guard},
		version,
		svc,
		tokens,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORS(cfg.CORSOrigins),
		httpapi.WithTrustedProxies(proxies),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting labd %s on %s (%s)", version, srv.Addr, h.Dialect().Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	_ = h.Close()
	if err != nil {
		log.Fatalf("labd: %v", err)
	}
	log.Println("Stopped")
}
