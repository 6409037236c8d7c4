package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/token-queue-scheduling/internal/api"
	"github.com/hackgods/token-queue-scheduling/internal/bootstrap"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s store=%s locks=%s", cfg.Env, cfg.HTTPPort, cfg.StoreDriver, cfg.LockBackend)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(rootCtx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer deps.Close()

	svc := deps.Service(cfg)

	// The tick endpoint works either way; only the periodic loop is optional.
	mon := monitor.New(svc, cfg.MonitorInterval, cfg.MonitorRunTimeout)
	if cfg.MonitorEmbedded {
		if err := mon.Start(rootCtx); err != nil {
			log.Fatalf("monitor start error: %v", err)
		}
		defer mon.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Service:            svc,
		Monitor:            mon,
		PgPool:             deps.PgPool,
		SQLite:             deps.SQLite,
		Redis:              deps.Redis,
		Env:                cfg.Env,
		Version:            cfg.Version,
		Location:           cfg.Location(),
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
