package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sprinklerd/internal/app"
	"sprinklerd/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "sprinklerd",
	Short:         "Irrigation controller daemon",
	Long:          "sprinklerd resolves irrigation programs into station runs and drives the outputs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and its programs",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (json or yaml)")
	rootCmd.AddCommand(runCmd, validateCmd, previewCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), "start failed")
		return fmt.Errorf("start: %w", err)
	}

	reason := "signal"
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = "fatal error"
	}
	fatal := a.Err()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil && !errors.Is(err, fatal) {
		fmt.Fprintf(os.Stderr, "stop: %v\n", err)
	}
	return fatal
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := app.Validate(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stations, %d programs)\n",
		cfgPath, cfg.Stations.OutputCount, len(cfg.Programs))
	return nil
}
