package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsURL      string
	statsInterval time.Duration
)

var statsTargets = []string{
	"bond_cycles_total",
	"bond_records_appended_total",
	"bond_ledger_confirmed_total",
	"bond_ledger_failed_total",
	"bond_source_down_total",
	"bond_tasks_running",
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Poll the metrics endpoint and print live counters",
	Example: `  bond stats --url http://localhost:9100/metrics --interval 1s`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		client := &http.Client{Timeout: statsInterval}
		fmt.Fprintf(cmd.OutOrStdout(), "Streaming metrics from %s (Ctrl+C to stop)\n", statsURL)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := printMetricsSnapshot(cmd.OutOrStdout(), client, statsURL); err != nil {
					fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				}
			}
		}
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsURL, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	statsCmd.Flags().DurationVar(&statsInterval, "interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(statsCmd)
}

func printMetricsSnapshot(out io.Writer, client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := scrapeMetrics(resp.Body, statsTargets)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("[" + time.Now().Format(time.RFC3339) + "]")
	for _, key := range statsTargets {
		fmt.Fprintf(&b, " %s=%g", strings.TrimPrefix(key, "bond_"), values[key])
	}
	fmt.Fprintln(out, b.String())
	return nil
}

// scrapeMetrics reads unlabelled samples for keys from the Prometheus text
// format. Missing keys are reported as zero.
func scrapeMetrics(r io.Reader, keys []string) (map[string]float64, error) {
	values := make(map[string]float64, len(keys))
	for _, k := range keys {
		values[k] = 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range keys {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}
