package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/energywebfoundation/ew-link-bond"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "bond",
	Short: "Meter polling pipeline that chains readings locally and publishes them to a ledger",
	Long: `bond polls energy meters on a schedule, appends every reading to a
hash-linked chain on disk and submits it to the configured ledger.

Commands:
  run        Start every configured stream
  validate   Load and validate a config file without starting anything
  verify     Check the hash links of a stream's local chain
  head       Print the newest entry of a stream's chain
  log        Print the newest records of a stream's chain
  stats      Poll the metrics endpoint and print live counters`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start every configured stream",
	Example: `  bond run --config ./data/config.yaml`,
	RunE:    runStreams,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a config file without starting anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := bond.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good: %d stream(s), ledger %s\n",
			cfgPath, len(cfg.Streams), cfg.Ledger.Driver)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./data/config.yaml", "Path to configuration file")
	rootCmd.AddCommand(runCmd, validateCmd)
}

func runStreams(cmd *cobra.Command, _ []string) error {
	flow, err := bond.Conf(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := flow.Run(ctx)
	for _, t := range report.Tasks {
		status := "ok"
		if t.Err != nil {
			status = t.Err.Error()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s state=%s cycles=%d %s\n", t.Stream, t.State, t.Cycles, status)
	}
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "bond: %v\n", err)
		os.Exit(1)
	}
}
