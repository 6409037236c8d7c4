package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hackgods/token-queue-scheduling/internal/bootstrap"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("lifecycle-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running lifecycle worker in env=%s interval=%s run_timeout=%s",
		cfg.Env, cfg.MonitorInterval, cfg.MonitorRunTimeout)

	if cfg.LockBackend == config.LockLocal {
		log.Println("warning: local locks do not exclude api-server, use LOCK_BACKEND=redis")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(rootCtx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer deps.Close()

	svc := deps.Service(cfg)

	monitor.New(svc, cfg.MonitorInterval, cfg.MonitorRunTimeout).Run(rootCtx)
	log.Println("shutdown signal received, lifecycle worker stopped")
}
