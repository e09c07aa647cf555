// cmd/registry/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"acp-broker/internal/app"
	"acp-broker/internal/config"
	"acp-broker/internal/logger"
	"acp-broker/internal/repository/memory"
	"acp-broker/internal/repository/postgresql"
	"acp-broker/internal/service"
	httptransport "acp-broker/internal/transport/http"
)

// @title ACP Job Registry API
// @version 1.0
// @description Job registry shared by buyer and seller agents.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	root := app.Logger(cfg)
	log := logger.Component(root, "registry")

	var (
		jobs      service.JobRepository
		offerings service.OfferingRepository
	)
	switch cfg.Registry.Driver {
	case "postgres":
		pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("pg: %v", err)
		}
		defer pool.Close()
		if err := postgresql.Migrate(ctx, pool); err != nil {
			log.Fatalf("pg: %v", err)
		}
		jobs = postgresql.NewJobRepository(pool)
		offerings = postgresql.NewOfferingRepository(pool)
	case "memory":
		store := memory.NewStore()
		jobs, offerings = store, store
	default:
		log.Fatalf("unknown registry driver %q", cfg.Registry.Driver)
	}

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	inbox := app.Inbox(cfg, rdb)

	led, err := app.Ledger(cfg, rdb, logger.Component(root, "ledger"))
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	reg := service.NewRegistry(jobs, offerings, led, inbox, log)
	if cfg.Registry.JobTTL > 0 {
		reg.DefaultTTL = cfg.Registry.JobTTL
	}

	log.WithFields(logrus.Fields{
		"addr":          cfg.HTTP.Addr,
		"driver":        cfg.Registry.Driver,
		"postgres_dsn":  app.RedactDSN(cfg.Postgres.DSN),
		"redis_addr":    cfg.Redis.Addr,
		"ledger":        cfg.Ledger.Driver,
		"reap_interval": cfg.Registry.ReapInterval,
	}).Info("config")

	// Reaper: истекшие jobs, незавершённые расчёты, архив, зависшие уведомления
	go reap(ctx, cfg, reg, inbox, logger.Component(root, "reaper"))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(httptransport.NewHandler(reg), logger.Component(root, "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("registry listening on %s", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http: %v", err)
	}
	log.Info("registry stopped")
}

const reapBatch = 100

func reap(ctx context.Context, cfg *config.Config, reg *service.Registry, inbox service.Inbox, log *logrus.Entry) {
	interval := cfg.Registry.ReapInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := reg.ExpireDue(ctx, reapBatch); err != nil {
			log.WithError(err).Warn("expire due jobs")
		} else if n > 0 {
			log.Infof("expired %d jobs", n)
		}

		if n, err := reg.SettlePending(ctx, reapBatch); err != nil {
			log.WithError(err).Warn("settle pending jobs")
		} else if n > 0 {
			log.Infof("settled %d jobs", n)
		}

		if cfg.Registry.ArchiveAfter > 0 {
			if n, err := reg.Archive(ctx, cfg.Registry.ArchiveAfter, reapBatch); err != nil {
				log.WithError(err).Warn("archive jobs")
			} else if n > 0 {
				log.Infof("archived %d jobs", n)
			}
		}

		if inbox != nil {
			n, err := inbox.RequeueStale(ctx, cfg.Redis.ClaimTimeout)
			if err != nil {
				log.WithError(err).Warn("requeue error")
				continue
			}
			if n > 0 {
				log.Infof("requeued %d notifications from processing", n)
			}
		}
	}
}
