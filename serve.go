package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/httpapi"
	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lifecycle daemon",
		Long: `Run the mailwatch daemon: the renewal scheduler, the Pub/Sub push
intake, and the operations API.

The daemon refreshes access tokens before they expire, renews mailbox
watches before their deadline, and reconciles missed changes after
push notifications or downtime. It exits cleanly on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	resolved, err := resolveConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(resolved.LogLevel, resolved.LogFormat)

	// One daemon per state database. A second instance would race on
	// watch renewals and cursor advances.
	pidPath := filepath.Join(filepath.Dir(resolved.DBPath), "mailwatch.pid")

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := store.Open(resolved.DBPath, logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer st.Close()

	oauth := gmail.NewOAuth(
		resolved.Provider.ClientID,
		resolved.Provider.ClientSecret,
		resolved.Provider.RedirectURL,
		nil,
		logger,
	)

	provider := lifecycle.NewGmailProvider(oauth, "", defaultHTTPClient(), logger)
	hub := httpapi.NewHub(logger)
	consumer := newLogConsumer(logger)

	engine := lifecycle.NewEngine(st, provider, consumer, hub, lifecycle.Options{
		Topic:             resolved.Provider.PubsubTopic,
		TickInterval:      resolved.TickInterval,
		RefreshLeadTime:   resolved.RefreshLeadTime,
		RenewalLeadTime:   resolved.RenewalLeadTime,
		TokenSafetyMargin: resolved.TokenSafetyMargin,
		DedupWindow:       resolved.DedupWindow,
		Workers:           resolved.Workers,
	}, logger)

	server := httpapi.NewServer(engine, provider, oauth, hub,
		resolved.ListenAddr, resolved.ShutdownTimeout, logger)

	ctx := shutdownContext(cmd.Context(), logger)

	logger.Info("daemon starting",
		"listen_addr", resolved.ListenAddr,
		"db_path", resolved.DBPath,
		"tick_interval", resolved.TickInterval.String(),
	)

	var group errgroup.Group

	group.Go(func() error {
		return engine.Run(ctx)
	})

	group.Go(func() error {
		return server.Run(ctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon exited: %w", err)
	}

	logger.Info("daemon stopped")

	return nil
}
