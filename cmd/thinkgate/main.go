package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/thinkgate/pkg/adapter"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/mcp"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/server"
	sig "github.com/zen-systems/thinkgate/pkg/signal"
)

var version = "dev"

var (
	configFile  string
	adapterFlag string
	modelFlag   string
	logLevel    string
	jsonLogs    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "thinkgate",
		Short: "Adaptive reasoning scheduler for tutoring agents",
		Long: `Thinkgate decides how hard to think about a learner's question, splits
	the token budget between reasoning and answer, and runs a budgeted
	tree search over reasoning steps while streaming progress.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to scheduler config file")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "override generation adapter (anthropic, openai, google, deepseek, mock)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override generation model or alias")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(reasonCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalFlags binds learner-state flags. Unset flags fall back to neutral
// values; an unset complexity is estimated from the query.
type signalFlags struct {
	complexity, affect, load, readiness float64
}

func (f *signalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.complexity, "complexity", 0, "query complexity in [0,1] (estimated when unset)")
	cmd.Flags().Float64Var(&f.affect, "affect", sig.Neutral, "learner affect in [0,1]")
	cmd.Flags().Float64Var(&f.load, "load", sig.Neutral, "cognitive load headroom in [0,1]")
	cmd.Flags().Float64Var(&f.readiness, "readiness", sig.Neutral, "readiness to learn in [0,1]")
}

func (f *signalFlags) vector(cmd *cobra.Command, query string) sig.Vector {
	in := sig.Input{Affect: &f.affect, Load: &f.load, Readiness: &f.readiness}
	if cmd.Flags().Changed("complexity") {
		in.Complexity = &f.complexity
	}
	return in.Resolve(query)
}

func planCmd() *cobra.Command {
	var flags signalFlags

	cmd := &cobra.Command{
		Use:   "plan [query]",
		Short: "Show the mode decision and token budget for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			rt, err := newRuntime(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			decision, b, err := rt.dispatcher.Plan(flags.vector(cmd, args[0]))
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, map[string]any{"decision": decision, "budget": b})
		},
	}
	flags.bind(cmd)
	return cmd
}

func reasonCmd() *cobra.Command {
	var flags signalFlags
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "reason [query]",
		Short: "Run a reasoning session and stream its steps",
		Long: `Selects a mode, allocates a budget and runs the reasoning search,
	printing each step as it is produced. Ctrl-C cancels the session.

	Use --json to print the raw event stream, one event per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger()
			rt, err := newRuntime(ctx, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			h, err := rt.dispatcher.Begin(args[0], flags.vector(cmd, args[0]))
			if err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				rt.dispatcher.Cancel(h.ID)
			}()

			enc := json.NewEncoder(os.Stdout)
			for ev := range h.Events() {
				if jsonOut {
					if err := enc.Encode(ev); err != nil {
						return err
					}
					continue
				}
				printEvent(os.Stdout, ev)
			}

			term, _ := h.Terminal()
			if term.Type == dispatch.EventError {
				return fmt.Errorf("session %s failed: %s", h.ID, term.Error.Message)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print events as JSON lines")
	return cmd
}

func printEvent(w io.Writer, ev dispatch.Event) {
	switch ev.Type {
	case dispatch.EventThinkingStarted:
		fmt.Fprintf(w, "thinking (estimated %dms)\n", ev.ThinkingStarted.EstimatedDurationMs)
	case dispatch.EventModeSelected:
		m := ev.ModeSelected
		fmt.Fprintf(w, "mode %s (%.2f), tier %s, %d reasoning + %d answer tokens\n  %s\n",
			m.Mode, m.Confidence, m.Tier, m.ReasoningTokens, m.AnswerTokens, m.Explanation)
	case dispatch.EventReasoningStep:
		s := ev.Step
		fmt.Fprintf(w, "%3d. [%s %.2f] %s\n", s.Index, s.Strategy, s.Confidence, s.Content)
	case dispatch.EventReasoningComplete:
		c := ev.ReasoningComplete
		if c.Conclusion != nil {
			fmt.Fprintf(w, "\n%s\n", *c.Conclusion)
		}
		suffix := ""
		if c.Degraded {
			suffix = ", degraded"
		}
		fmt.Fprintf(w, "\n%d steps in %dms%s\n", c.StepCount, c.ElapsedMs, suffix)
	case dispatch.EventCancelled:
		fmt.Fprintf(w, "cancelled after %d steps\n", ev.Cancelled.AtIndex)
	case dispatch.EventError:
		fmt.Fprintf(w, "error (%s): %s\n", ev.Error.Kind, ev.Error.Message)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger()
			rt, err := newRuntime(ctx, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.cfg.Scheduler.Server.Addr
			}
			srv := server.New(rt.dispatcher, rt.store, server.WithLogger(logger))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return rt.dispatcher.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve scheduler tools over MCP stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout exposing
	select_mode, allocate_budget, reason, get_session, list_sessions and
	record_feedback. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger()
			rt, err := newRuntime(ctx, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			s, _ := mcp.NewServer(version, rt.dispatcher, rt.store)

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- mcpserver.ServeStdio(s)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(newLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMODE\tTIER\tSTATUS\tSTEPS\tTOKENS\tRATING\tQUERY")
			for _, s := range sessions {
				rating := "-"
				if s.Feedback != nil {
					rating = strconv.Itoa(*s.Feedback)
				}
				status := string(s.Status)
				if s.Degraded {
					status += "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Mode, s.Tier, status,
					s.StepCount, s.TokensUsed, rating, truncate(s.Query, 48))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum sessions to show")

	show := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(newLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := st.Get(cmd.Context(), args[0])
			if errors.Is(err, record.ErrNotFound) {
				return fmt.Errorf("session %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, s)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func feedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback [session-id] [rating]",
		Short: "Rate a finished session from 1 to 5",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be an integer: %w", err)
			}
			if err := record.ValidateRating(rating); err != nil {
				return err
			}

			st, err := openStore(newLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RecordFeedback(cmd.Context(), args[0], rating); err != nil {
				return err
			}
			fmt.Printf("Recorded rating %d for %s\n", rating, args[0])
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective scheduler configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				if config.IsConfigurationError(err) {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				return err
			}
			fmt.Printf("# config dir: %s\n# data dir:   %s\n# sink path:  %s\n", cfg.ConfigDir, cfg.DataDir, cfg.SinkPath())
			fmt.Printf("# adapters:   %s\n", strings.Join(adapter.Names(adapter.Available(cfg)), ", "))
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Scheduler)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
