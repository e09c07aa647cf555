package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"acp-broker/internal/agent/buyer"
	"acp-broker/internal/app"
	"acp-broker/internal/config"
	"acp-broker/internal/logger"
	"acp-broker/internal/share"
	httptransport "acp-broker/internal/transport/http"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "buyer",
		Short:        "Request Twitter KOL analyses from sellers on the registry",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				_ = os.Setenv("ACP_CONFIG", configPath)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	rootCmd.AddCommand(
		newRequestCommand(),
		newStatusCommand(),
	)
	return rootCmd
}

func newRequestCommand() *cobra.Command {
	var username, keyword string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request an analysis and follow the job until it ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if keyword != "" {
				cfg.Buyer.Keyword = keyword
			}
			b, cleanup, err := newInitiator(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := b.Run(ctx, username)
			if err != nil {
				return err
			}
			return printOutcome(cmd, out)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Twitter handle to analyse")
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "offering search keyword (overrides buyer.keyword)")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job as the registry stores it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			j, err := httptransport.NewClient(cfg.Registry.URL, 0).GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		},
	}
}

func newInitiator(ctx context.Context, cfg *config.Config) (*buyer.Initiator, func(), error) {
	root := app.Logger(cfg)
	log := logger.Component(root, "buyer")

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	led, err := app.Ledger(cfg, rdb, logger.Component(root, "ledger"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	b := buyer.NewInitiator(httptransport.NewClient(cfg.Registry.URL, 0), led, app.Inbox(cfg, rdb), buyer.Config{
		Wallet:         cfg.Buyer.Wallet,
		Keyword:        cfg.Buyer.Keyword,
		ConfirmTimeout: cfg.Buyer.ConfirmTimeout,
		PollInterval:   cfg.Buyer.PollInterval,
		JobTTL:         cfg.Registry.JobTTL,
	}, log)

	sc := share.Config{
		Endpoint:    cfg.Share.Endpoint,
		AccessKey:   cfg.Share.AccessKey,
		SecretKey:   cfg.Share.SecretKey,
		Bucket:      cfg.Share.Bucket,
		UseSSL:      cfg.Share.UseSSL,
		ExpireHours: cfg.Share.ExpireHours,
	}
	if sc.Enabled() {
		up, err := share.NewUploader(sc)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := up.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("share bucket unavailable, results will not be uploaded")
		} else {
			b.Uploader = up
		}
	}

	log.WithFields(logrus.Fields{
		"wallet":       cfg.Buyer.Wallet,
		"keyword":      cfg.Buyer.Keyword,
		"registry_url": cfg.Registry.URL,
		"share":        b.Uploader != nil,
	}).Debug("buyer configured")
	return b, cleanup, nil
}

func printOutcome(cmd *cobra.Command, out *buyer.Outcome) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "job %s: %s\n", out.Job.ID, out.Job.Phase)
	if out.Job.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", out.Job.Reason)
	}
	if out.Job.Settlement != "" {
		fmt.Fprintf(w, "escrow: %s\n", out.Job.Settlement)
	}
	if out.Completed() && out.Job.Deliverable != nil {
		fmt.Fprintf(w, "summary: %s\n", out.Job.Deliverable.Summary)
		if len(out.Job.Deliverable.Metrics) > 0 {
			b, err := json.MarshalIndent(out.Job.Deliverable.Metrics, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "metrics:\n%s\n", b)
		}
	}
	if out.ShareURL != "" {
		fmt.Fprintf(w, "share: %s\n", out.ShareURL)
	}
	return nil
}
