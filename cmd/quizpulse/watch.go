package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/quizpulse/quizpulse/internal/client"
	"github.com/quizpulse/quizpulse/internal/dashboard"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/ingress"
	"github.com/spf13/cobra"
)

var (
	watchURL     string
	watchLogFile string

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard against a running hub",
		RunE:  runWatch,
	}
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "WebSocket URL of the hub (default from config)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Write logs to this file while the dashboard owns the terminal")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if watchURL != "" {
		cfg.Session.URL = watchURL
	}

	// The alt screen owns stdout/stderr; logs go to a file or nowhere.
	logger.SetOutput(io.Discard)
	if watchLogFile != "" {
		f, err := os.OpenFile(watchLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	monOpts := health.OptionsFromConfig(cfg.Monitor, logger)
	monOpts.QueueHandler = func(ev ingress.Event) {
		logger.WithField("type", ev.Type).Debug("Inbound frame")
	}
	monitor := health.New(monOpts)

	session := client.NewSession(client.OptionsFromConfig(cfg.Session, monitor, logger))
	feed := client.NewFeed(session, client.FeedOptions{
		Capacity:  cfg.Feed.Capacity,
		TimeRange: cfg.Feed.TimeRange,
		Live:      cfg.Feed.Live,
		Logger:    logger,
	})
	monitor.AddSource(feed)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		// A failed first dial still schedules retries; the dashboard shows the state.
		if err := session.Connect(ctx); err != nil {
			logger.WithError(err).WithField("url", cfg.Session.URL).Warn("Initial connect failed")
		}
	}()

	p := tea.NewProgram(dashboard.New(feed, monitor), tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	wg.Wait()
	session.Disconnect()

	if runErr != nil {
		return fmt.Errorf("dashboard: %w", runErr)
	}
	return nil
}
