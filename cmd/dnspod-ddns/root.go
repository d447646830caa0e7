package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/dnspod-ddns/internal/app"
	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/logger"
)

type contextKey string

const configKey = contextKey("config")

var rootCmd = &cobra.Command{
	Use:           "dnspod-ddns",
	Short:         "Keep DNSPod address records pointed at this host's public IP",
	Long:          "An agent that probes the public IPv4/IPv6 address and updates the managed A/AAAA records of registered DNSPod accounts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if err := config.InitConfig(path); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := context.WithValue(cmd.Context(), configKey, cfg)
		cmd.SetContext(ctx)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFrom(cmd)
		logInstance := logger.SetupLogger(&cfg.Logging)

		// Create a context with cancellation for graceful shutdown.
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		application, err := app.New(ctx, cfg, logInstance)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		defer application.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				logInstance.Info().Msgf("Received signal: %v", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		// Run returns once the context is cancelled.
		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	},
}

func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey).(*config.Config)
}

// withApp builds the application for a one-shot subcommand and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := configFrom(cmd)
	log := logger.SetupLogger(&cfg.Logging)
	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "set log level (e.g. INFO, DEBUG, WARN)")
	rootCmd.PersistentFlags().String("log-format", "console", "log output format (console or json)")
	viper.BindPFlag("log.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(probeCmd, keygenCmd, accountsCmd, recordsCmd, domainsCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}
}
