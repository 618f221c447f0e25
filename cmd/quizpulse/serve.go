package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/mock"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/quizpulse/quizpulse/internal/ws"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	servePort int
	serveDB   string
	serveMock bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast hub and its HTTP surface",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override server port")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Override SQLite database path")
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Feed the hub synthetic quiz and guess traffic")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveDB != "" {
		cfg.Store.Path = serveDB
	}

	defaultRange, err := analytics.ParseTimeRange(cfg.Hub.DefaultTimeRange)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	agg := analytics.New(st, analytics.Options{Logger: logger})
	monitor := health.New(health.OptionsFromConfig(cfg.Monitor, logger))

	hub := ws.NewHub(st, agg, ws.HubOptions{
		AnalyticsDelay:    cfg.Hub.AnalyticsDelay,
		DefaultTimeRange:  defaultRange,
		SendBuffer:        cfg.Hub.SendBuffer,
		MaxConnections:    cfg.Hub.MaxConnections,
		MessagesPerSecond: cfg.Hub.MessagesPerSecond,
		MessageBurst:      cfg.Hub.MessageBurst,
		Alerter:           monitor,
		Logger:            logger,
	})
	defer hub.Stop()

	monitor.AddSource(health.NewProcessSource())
	monitor.AddSource(hub)
	monitor.AddSource(agg)

	server := ws.NewServer(cfg.Server, hub, agg, st, monitor, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor.Start(ctx)
	defer monitor.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if serveMock {
		logger.Info("Starting mock traffic")
		mock.NewGenerator(hub, mock.Options{Logger: logger}).Start(ctx)
	}
	g.Go(func() error {
		return ws.ListenAndServe(ctx, cfg.Addr(), server.Handler(), logger)
	})
	g.Go(func() error {
		logHealth(ctx, monitor, logger)
		return nil
	})

	logger.WithFields(logrus.Fields{
		"addr":  cfg.Addr(),
		"store": cfg.Store.Path,
	}).Info("Starting quizpulse hub")
	return g.Wait()
}

// logHealth writes each server-side snapshot at debug level until ctx is done.
func logHealth(ctx context.Context, monitor *health.Monitor, logger *logrus.Logger) {
	snaps, unsubscribe := monitor.SubscribeMetrics()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			logger.WithFields(logrus.Fields{
				"connections":    s.Server.ActiveConnections,
				"throughput":     s.Server.Throughput,
				"error_rate":     s.Server.ErrorRate,
				"memory_percent": s.Server.MemoryUsage,
				"cache_hit_rate": s.Analytics.CacheHitRate,
			}).Debug("Health tick")
		}
	}
}
