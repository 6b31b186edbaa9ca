package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/display-agent/internal/service_registry"
	"github.com/benmeehan/display-agent/internal/utils"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	configPath string
	showHash   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "display-agent",
	Short:   "Firmware update and command agent for display devices",
	Version: version,
	RunE:    runAgent,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop until interrupted",
	RunE:  runAgent,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check once for a firmware update and print the result",
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the device status document",
	RunE:  runStatus,
}

var clearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Forget the version recorded by the last failed automatic update",
	RunE:  runClearFailed,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	statusCmd.Flags().BoolVar(&showHash, "hash", false, "include the SHA-256 of the running slot image")

	rootCmd.AddCommand(runCmd, checkCmd, statusCmd, clearFailedCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	env, err := bootstrap(configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.Logger

	sr := service_registry.NewServiceRegistry(env.Deps.Clock, logger.With().Str("component", "registry").Logger())
	components, err := sr.Build(env.Deps)
	if err != nil {
		return err
	}

	if err := sr.StartServices(); err != nil {
		return err
	}
	logger.Info().
		Str("version", components.Status.Version).
		Str("device_id", components.Status.DeviceID).
		Msg("All services started successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopErr := sr.RunLoop(ctx, env.Config.System.LoopInterval)

	logger.Info().Msg("Shutting down gracefully...")
	if err := sr.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Some services failed to stop")
	}
	return loopErr
}

func runCheck(cmd *cobra.Command, args []string) error {
	env, components, err := buildOffline()
	if err != nil {
		return err
	}
	defer env.Close()

	result, err := components.Orchestrator.CheckForUpdate(cmd.Context())
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	return printJSON(result)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, components, err := buildOffline()
	if err != nil {
		return err
	}
	defer env.Close()

	report := components.Status.Report()
	if !showHash {
		return printJSON(report)
	}

	hash, err := env.RunningImageHash()
	if err != nil {
		return err
	}
	return printJSON(struct {
		Status    any    `json:"status"`
		ImageHash string `json:"image_sha256"`
	}{report, hash})
}

func runClearFailed(cmd *cobra.Command, args []string) error {
	env, components, err := buildOffline()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := components.Orchestrator.ClearFailedVersion(); err != nil {
		return err
	}
	env.Logger.Info().Msg("Failed version marker cleared")
	return nil
}

// buildOffline wires the components without the realtime channel, for the
// one-shot subcommands.
func buildOffline() (*environment, *service_registry.Components, error) {
	env, err := bootstrap(configPath, false)
	if err != nil {
		return nil, nil, err
	}
	sr := service_registry.NewServiceRegistry(utils.SystemClock{}, env.Logger)
	components, err := sr.Build(env.Deps)
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return env, components, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
