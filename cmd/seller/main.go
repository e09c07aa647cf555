// cmd/seller/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"acp-broker/internal/agent/seller"
	"acp-broker/internal/analysis"
	"acp-broker/internal/app"
	"acp-broker/internal/logger"
	"acp-broker/internal/retry"
	httptransport "acp-broker/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	root := app.Logger(cfg)
	log := logger.Component(root, "seller")

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	reg := httptransport.NewClient(cfg.Registry.URL, 0)
	backend := analysis.NewClient(analysis.Config{URL: cfg.Analysis.URL, Timeout: cfg.Analysis.Timeout})
	policy := retry.Policy{
		MaxAttempts:    cfg.Analysis.MaxAttempts,
		InitialBackoff: cfg.Analysis.InitialBackoff,
		MaxBackoff:     cfg.Analysis.MaxBackoff,
		Multiplier:     2,
	}

	l := seller.NewListener(reg, backend, policy, app.Inbox(cfg, rdb), seller.Config{
		Wallet:         cfg.Seller.Wallet,
		Offering:       cfg.Seller.Offering,
		Description:    cfg.Seller.Description,
		Price:          cfg.Seller.Price,
		PaymentTimeout: cfg.Seller.PaymentTimeout,
		PollInterval:   cfg.Seller.PollInterval,
	}, log)

	log.WithFields(logrus.Fields{
		"wallet":       cfg.Seller.Wallet,
		"offering":     cfg.Seller.Offering,
		"price":        cfg.Seller.Price,
		"registry_url": cfg.Registry.URL,
		"analysis_url": cfg.Analysis.URL,
		"inbox":        rdb != nil,
	}).Info("seller starting")

	if err := l.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	log.Info("seller stopped")
}
