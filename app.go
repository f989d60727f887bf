package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"leadpilot/db"
	"leadpilot/inbox"
	"leadpilot/knowledge"
	"leadpilot/llm"
	"leadpilot/metrics"
	"leadpilot/monitor"
	"leadpilot/notify"
	"leadpilot/reddit"
	"leadpilot/retrieval"
	"leadpilot/utils"
)

// app holds the process-wide dependencies shared by every command
type app struct {
	cfg     *utils.Config
	logger  *utils.Logger
	db      *db.DB
	metrics *metrics.Metrics
}

// resolveConfigPath returns the --config flag, or the default config file
// when it exists
func resolveConfigPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return path
	}
	if def := utils.GetConfigPath(); fileExists(def) {
		return def
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// openApp loads configuration, starts logging and opens the database
func openApp(cmd *cobra.Command) (*app, error) {
	configPath := resolveConfigPath(cmd)
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if configPath != "" {
		logger.Info("Using config file: %s", configPath)
	}

	database, err := db.New(cfg.Data.Driver, cfg.Data.DBPath)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.AttachSystemLog(database)
	logger.Debug("Database initialized: %s (%s)", cfg.Data.DBPath, cfg.Data.Driver)

	for _, gap := range cfg.Gaps() {
		logger.Warn("Configuration gap: %s", gap)
	}

	return &app{cfg: cfg, logger: logger, db: database, metrics: metrics.NewMetrics()}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
	a.logger.Close()
}

func (a *app) notifier() notify.Notifier {
	return notify.New(a.cfg.Notify, a.logger, a.metrics)
}

func (a *app) chain(ctx context.Context) *llm.Chain {
	return llm.ChainFromConfig(ctx, a.cfg.Generation, a.logger, llm.WithMetrics(a.metrics))
}

// redditClient returns the Reddit adapter, or nil when credentials are
// missing. The gap itself is reported once by openApp.
func (a *app) redditClient() (*reddit.Client, error) {
	client, err := reddit.New(a.cfg.Reddit, nil, a.logger)
	if errors.Is(err, reddit.ErrNotConfigured) {
		return nil, nil
	}
	return client, err
}

func (a *app) ingestor(chain *llm.Chain, n notify.Notifier) *monitor.Ingestor {
	scorer := monitor.NewScorer(a.cfg.Scoring, chain)
	return monitor.NewIngestor(a.db, scorer, n, a.logger, a.metrics)
}

func (a *app) poller(feed monitor.Feed, ingestor *monitor.Ingestor) *monitor.Poller {
	return monitor.NewPoller(feed, ingestor, a.cfg.Monitor, a.logger)
}

// handler builds the conversation handler. box may be nil for commands
// that only toggle takeover.
func (a *app) handler(ctx context.Context, box inbox.Inbox, chain *llm.Chain, n notify.Notifier) *inbox.Handler {
	var engine *retrieval.Engine
	if box != nil {
		store := knowledge.NewStore(a.cfg.Retrieval.KnowledgeDir, a.logger, a.metrics)
		engine = retrieval.FromConfig(ctx, a.cfg.Retrieval, store, a.logger, a.metrics)
	}
	var gen inbox.Generator
	if chain != nil {
		gen = chain
	}
	var ret inbox.Retriever
	if engine != nil {
		ret = engine
	}
	return inbox.NewHandler(box, a.db, ret, gen, n, inbox.Options{
		Identity:   a.cfg.Inbox.Identity,
		FetchLimit: a.cfg.Inbox.FetchLimit,
		TopK:       a.cfg.Retrieval.TopK,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
}
