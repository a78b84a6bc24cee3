package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"engagement-sdk/internal/app/server"
	"engagement-sdk/internal/config"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "agent",
	Short:         "Engagement SDK core as a headless agent",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline queue, the realtime channel and the local bridge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return server.Run(loadConfig())
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the offline queue once and print the report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withAgent(func(ctx context.Context, a *server.Agent) error {
			if err := a.Core().Init(ctx); err != nil {
				return err
			}
			return printJSON(cmd, a.Core().Flush(ctx))
		})
	},
}

var trackCmd = &cobra.Command{
	Use:   "track <screen>",
	Short: "Track a screen view and print the campaigns pushed for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *server.Agent) error {
			if err := a.Core().Init(ctx); err != nil {
				return err
			}
			resp, err := a.Core().TrackScreen(ctx, args[0])
			if err != nil {
				return err
			}
			if resp == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no campaigns pushed")
				return nil
			}
			return printJSON(cmd, resp)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level")
	rootCmd.AddCommand(serveCmd, flushCmd, trackCmd)
}

func loadConfig() config.Config {
	cfg := config.Load()
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	config.SetupLogging(cfg.Server.LogLevel)
	return cfg
}

func withAgent(fn func(ctx context.Context, a *server.Agent) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := server.New(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
