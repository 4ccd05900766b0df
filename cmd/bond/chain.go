package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/energywebfoundation/ew-link-bond"
)

var logLimit int

var verifyCmd = &cobra.Command{
	Use:   "verify <stream>",
	Short: "Check the hash links of a stream's local chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bond.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		n, err := bond.VerifyChain(cfg.Chain.Dir, args[0], cfg.Chain.Codec)
		if err != nil {
			return fmt.Errorf("stream %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stream %s: %d entries verified\n", args[0], n)
		return nil
	},
}

var headCmd = &cobra.Command{
	Use:   "head <stream>",
	Short: "Print the newest entry of a stream's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bond.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		head, err := bond.ReadChainHead(cfg.Chain.Dir, args[0], cfg.Chain.Codec)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "stream:    %s\n", head.Stream)
		fmt.Fprintf(out, "entries:   %d\n", head.Entries)
		fmt.Fprintf(out, "last_hash: %s\n", head.LastHash)
		if head.Entries > 0 {
			fmt.Fprintf(out, "payload:   %s\n", head.PayloadFile)
			fmt.Fprintf(out, "appended:  %s\n", head.AppendedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <stream>",
	Short: "Print the newest records of a stream's chain as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bond.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		recs, err := bond.ReadChain(cfg.Chain.Dir, args[0], cfg.Chain.Codec, logLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 10, "Number of records to print, 0 for all")
	rootCmd.AddCommand(verifyCmd, headCmd, logCmd)
}
