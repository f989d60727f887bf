package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"leadpilot/db"
	"leadpilot/inbox"
	"leadpilot/scheduler"
	"leadpilot/server"
	"leadpilot/utils"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lead and inbox polling loops, and the HTTP API if configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, a)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	a.logger.Info("Starting leadpilot v%s", version)

	client, err := a.redditClient()
	if err != nil {
		return err
	}
	n := a.notifier()
	chain := a.chain(ctx)
	ingestor := a.ingestor(chain, n)

	var (
		loops []*scheduler.Loop
		// one handler so takeover toggles and inbox processing share per-handle locks
		handler *inbox.Handler
	)
	if client != nil {
		monitorBands, err := scheduler.BandsFromConfig(a.cfg.Schedule.MonitorBands)
		if err != nil {
			return fmt.Errorf("schedule.monitor_bands: %w", err)
		}
		inboxBands, err := scheduler.BandsFromConfig(a.cfg.Schedule.InboxBands)
		if err != nil {
			return fmt.Errorf("schedule.inbox_bands: %w", err)
		}

		poller := a.poller(client, ingestor)
		handler = a.handler(ctx, client, chain, n)
		loops = append(loops,
			scheduler.NewLoop("leads", func(ctx context.Context) error {
				_, err := poller.Poll(ctx)
				return err
			}, monitorBands, a.cfg.Schedule.TickTimeout, a.logger, a.metrics),
			scheduler.NewLoop("inbox", func(ctx context.Context) error {
				_, err := handler.Poll(ctx)
				return err
			}, inboxBands, a.cfg.Schedule.TickTimeout, a.logger, a.metrics),
		)
	}

	var srv *server.Server
	if a.cfg.Server.Addr != "" {
		if handler == nil {
			handler = a.handler(ctx, nil, nil, n)
		}
		srv = server.New(a.cfg.Server.Addr, a.db, ingestor, handler, a.metrics, a.logger)
	}

	if len(loops) == 0 && srv == nil {
		return errors.New("nothing to run: configure reddit credentials or server.addr")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			defer utils.RecoverFromPanic(a.logger, l.Name()+" loop")
			l.Run(ctx)
			return nil
		})
	}
	if srv != nil {
		standalone := len(loops) == 0
		g.Go(func() error {
			return serveAlongside(ctx, srv.ListenAndServe, standalone, a.logger)
		})
	}

	err = g.Wait()
	a.logger.Info("leadpilot stopped")
	return err
}

// serveAlongside runs the HTTP surface. Unless it is the only thing running,
// a failure is logged and the polling loops carry on.
func serveAlongside(ctx context.Context, serve func(context.Context) error, standalone bool, logger *utils.Logger) error {
	err := serve(ctx)
	if err == nil || standalone {
		return err
	}
	logger.Error("HTTP server stopped, polling continues: %v", err)
	return nil
}

func newPollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single polling pass",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "leads",
		Short: "Check the watched subreddits once for new leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.redditClient()
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("reddit credentials are not configured")
			}
			ctx := cmd.Context()
			added, err := a.poller(client, a.ingestor(a.chain(ctx), a.notifier())).Poll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%d new lead(s)\n", added)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "inbox",
		Short: "Answer unread direct messages once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.redditClient()
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("reddit credentials are not configured")
			}
			ctx := cmd.Context()
			handled, err := a.handler(ctx, client, a.chain(ctx), a.notifier()).Poll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%d message(s) handled\n", handled)
			return err
		},
	})
	return cmd
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "1":
		return true, nil
	case "off", "false", "disable", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func newTakeoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "takeover <handle> on|off",
		Short: "Enable or disable human takeover for a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			enable, err := parseSwitch(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.handler(cmd.Context(), nil, nil, nil).SetTakeover(cmd.Context(), args[0], enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "human takeover for u/%s: %t\n", args[0], enable)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <handle> <new|engaged|qualified|closed>",
		Short: "Move a conversation to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			conv, err := a.db.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			next := db.ConversationStatus(strings.ToLower(args[1]))
			if err := a.db.UpdateConversationStatus(ctx, conv.ID, next); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "u/%s: %s -> %s\n", conv.Handle, conv.Status, next)
			return nil
		},
	}
}

func newLeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lead <external-id> <new|ignored|contacted|bookmarked>",
		Short: "Set the triage status of a lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := db.LeadStatus(strings.ToLower(args[1]))
			if !status.Valid() {
				return fmt.Errorf("invalid lead status %q", args[1])
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.UpdateLeadStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lead %s: %s\n", args[0], status)
			return nil
		},
	}
}

func newNotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes <handle> <text>",
		Short: "Replace the operator notes of a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			conv, err := a.db.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.db.UpdateNotes(ctx, conv.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notes updated for u/%s\n", conv.Handle)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show lead, conversation and log counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if vacuum {
				if err := a.db.Vacuum(); err != nil {
					return err
				}
			}
			stats, err := a.db.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "leads: %d\n", stats.TotalLeads())
			for _, s := range []db.LeadStatus{db.LeadNew, db.LeadContacted, db.LeadBookmarked, db.LeadIgnored} {
				fmt.Fprintf(out, "  %-10s %d\n", s, stats.LeadsByStatus[s])
			}
			fmt.Fprintf(out, "conversations:\n")
			for _, s := range []db.ConversationStatus{db.StatusNew, db.StatusEngaged, db.StatusQualified, db.StatusClosed} {
				fmt.Fprintf(out, "  %-10s %d\n", s, stats.ConversationsByStatus[s])
			}
			fmt.Fprintf(out, "human takeover: %d\n", stats.TakeoverCount)
			fmt.Fprintf(out, "messages: %d\n", stats.MessageCount)
			fmt.Fprintf(out, "system log entries: %d\n", stats.SystemLogCount)
			fmt.Fprintf(out, "database size: %d bytes\n", stats.DBSizeBytes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "Compact the database file first")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <handle>",
		Short: "Export a conversation transcript as JSON or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := utils.ParseExportFormat(format)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if output == "" {
				output = utils.GenerateExportFilename(args[0], f)
			}
			if err := utils.ExportConversation(cmd.Context(), a.db, args[0], f, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported u/%s to %s\n", args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: json or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: generated from the handle)")
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			written, err := utils.EnsureDefaultConfig(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config file: %s\n", written)
			return nil
		},
	}
}
